// Package indicator 是指标服务（TA service）的 HTTP 客户端。
package indicator

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/autotrader/pkg/cache"
)

// ErrStatus 指标服务返回非 2xx
var ErrStatus = errors.New("indicator service error status")

// IndicatorResponse 单值指标
type IndicatorResponse struct {
	Value float64 `json:"value"`
}

// MACDResponse MACD 三元组
type MACDResponse struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// SignalsResponse 聚合信号
type SignalsResponse struct {
	Signals map[string]float64 `json:"signals"`
}

// Options 客户端选项
type Options struct {
	Timeout  time.Duration // 单次请求超时，必须为有限值
	CacheTTL time.Duration // 信号缓存时长，0 表示不缓存
}

// Client 指标服务客户端。不重试，失败由调用方决定如何处理。
type Client struct {
	client *resty.Client
	cache  *cache.InMemoryCache[string, map[string]float64]
	ttl    time.Duration
}

// NewClient 创建客户端
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	c := &Client{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(opts.Timeout).
			SetRetryCount(0).
			SetHeader("Accept", "application/json"),
		ttl: opts.CacheTTL,
	}
	if opts.CacheTTL > 0 {
		c.cache = cache.NewInMemoryCache[string, map[string]float64](opts.CacheTTL)
	}
	return c
}

// Close 释放缓存的后台清理
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// RSI GET /v1/indicators/rsi/{pair}/{interval}
func (c *Client) RSI(ctx context.Context, pair, interval string) (float64, error) {
	var resp IndicatorResponse
	if err := c.get(ctx, "/v1/indicators/rsi/{pair}/{interval}", pair, interval, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// MACD GET /v1/indicators/macd/{pair}/{interval}
func (c *Client) MACD(ctx context.Context, pair, interval string) (MACDResponse, error) {
	var resp MACDResponse
	err := c.get(ctx, "/v1/indicators/macd/{pair}/{interval}", pair, interval, &resp)
	return resp, err
}

// Signals GET /v1/indicators/signals/{pair}/{interval}
func (c *Client) Signals(ctx context.Context, pair, interval string) (map[string]float64, error) {
	key := pair + "/" + interval
	if c.cache != nil {
		if s, ok := c.cache.Get(key); ok {
			return s, nil
		}
	}

	var resp SignalsResponse
	if err := c.get(ctx, "/v1/indicators/signals/{pair}/{interval}", pair, interval, &resp); err != nil {
		return nil, err
	}
	if resp.Signals == nil {
		resp.Signals = map[string]float64{}
	}
	if c.cache != nil {
		c.cache.Set(key, resp.Signals, c.ttl)
	}
	return resp.Signals, nil
}

func (c *Client) get(ctx context.Context, path, pair, interval string, out interface{}) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"pair": pair, "interval": interval}).
		SetResult(out).
		ForceContentType("application/json").
		Get(path)
	if err != nil {
		return errors.Wrapf(err, "GET %s %s/%s", path, pair, interval)
	}
	// 非 2xx 一律视为失败（含未跟随的 3xx）
	if !resp.IsSuccess() {
		return errors.Wrapf(ErrStatus, "GET %s %s/%s: status %d", path, pair, interval, resp.StatusCode())
	}
	return nil
}
