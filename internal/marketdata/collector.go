// Package marketdata 订阅 Uniswap V2 池子的 Swap 事件，聚合为 OHLCV K线。
// 与执行核心没有共享状态。
package marketdata

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/pkg/sigchan"
)

// SwapTopic Swap(address,uint256,uint256,uint256,uint256,address)
var SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

// Candle 一根 K线。价格为 token1/token0 的原始单位比值（不做精度换算），成交量以 token0 原始单位计。
type Candle struct {
	Pool     common.Address
	Start    time.Time
	Interval time.Duration
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Trades   int
}

// Config 采集参数
type Config struct {
	Pools    []common.Address
	Interval time.Duration
	Buffer   int
}

// Collector 后台任务。通过 Poll/Candles 取收盘的 K线，Close 释放。
type Collector struct {
	cfg      Config
	filterer ethereum.LogFilterer
	now      func() time.Time

	candles chan Candle
	updated *sigchan.Chan

	mu   sync.Mutex
	open map[common.Address]*Candle

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

func newCollector(filterer ethereum.LogFilterer, cfg Config) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Collector{
		cfg:      cfg,
		filterer: filterer,
		now:      time.Now,
		candles:  make(chan Candle, cfg.Buffer),
		updated:  sigchan.New(1),
		open:     make(map[common.Address]*Candle),
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "marketdata"),
	}
}

// Start 订阅池子日志并启动聚合。断线时自动重订阅。
func Start(ctx context.Context, filterer ethereum.LogFilterer, cfg Config) (*Collector, error) {
	if len(cfg.Pools) == 0 {
		return nil, errors.New("marketdata: no pools configured")
	}
	c := newCollector(filterer, cfg)
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return c, nil
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.candles)

	logs := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: c.cfg.Pools,
		Topics:    [][]common.Hash{{SwapTopic}},
	}
	sub := event.ResubscribeErr(10*time.Second, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			c.log.Warnf("日志订阅中断，重新订阅: %v", lastErr)
		}
		return c.filterer.SubscribeFilterLogs(ctx, query, logs)
	})
	defer sub.Unsubscribe()

	ticker := time.NewTicker(c.tickEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(time.Time{})
			return
		case err := <-sub.Err():
			if err != nil {
				c.log.Errorf("日志订阅失败: %v", err)
			}
			c.flush(time.Time{})
			return
		case l := <-logs:
			c.ingest(l)
		case <-ticker.C:
			c.flush(c.now())
		}
	}
}

func (c *Collector) tickEvery() time.Duration {
	if d := c.cfg.Interval / 4; d > 0 {
		return d
	}
	return c.cfg.Interval
}

// ingest 把一条 Swap 日志计入所在周期的 K线
func (c *Collector) ingest(l types.Log) {
	if l.Removed || len(l.Topics) == 0 || l.Topics[0] != SwapTopic || len(l.Data) < 128 {
		return
	}
	amount0In := new(big.Int).SetBytes(l.Data[0:32])
	amount1In := new(big.Int).SetBytes(l.Data[32:64])
	amount0Out := new(big.Int).SetBytes(l.Data[64:96])
	amount1Out := new(big.Int).SetBytes(l.Data[96:128])

	var price decimal.Decimal
	switch {
	case amount0In.Sign() > 0 && amount1Out.Sign() > 0:
		price = decimal.NewFromBigInt(amount1Out, 0).Div(decimal.NewFromBigInt(amount0In, 0))
	case amount0Out.Sign() > 0 && amount1In.Sign() > 0:
		price = decimal.NewFromBigInt(amount1In, 0).Div(decimal.NewFromBigInt(amount0Out, 0))
	default:
		return
	}
	volume := decimal.NewFromBigInt(new(big.Int).Add(amount0In, amount0Out), 0)

	now := c.now()
	start := now.Truncate(c.cfg.Interval)

	c.mu.Lock()
	cur, ok := c.open[l.Address]
	if ok && !cur.Start.Equal(start) {
		c.emitLocked(*cur)
		ok = false
	}
	if !ok {
		cur = &Candle{
			Pool:     l.Address,
			Start:    start,
			Interval: c.cfg.Interval,
			Open:     price,
			High:     price,
			Low:      price,
			Volume:   decimal.Zero,
		}
		c.open[l.Address] = cur
	}
	if price.GreaterThan(cur.High) {
		cur.High = price
	}
	if price.LessThan(cur.Low) {
		cur.Low = price
	}
	cur.Close = price
	cur.Volume = cur.Volume.Add(volume)
	cur.Trades++
	c.mu.Unlock()
}

// flush 收盘周期已结束的 K线；before 为零值时全部收盘
func (c *Collector) flush(before time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pool, cur := range c.open {
		if before.IsZero() || !cur.Start.Add(cur.Interval).After(before) {
			c.emitLocked(*cur)
			delete(c.open, pool)
		}
	}
}

func (c *Collector) emitLocked(candle Candle) {
	select {
	case c.candles <- candle:
		c.updated.Emit()
	default:
		c.log.WithField("pool", candle.Pool.Hex()).Warn("K线缓冲已满，丢弃")
	}
}

// Poll 非阻塞取一根收盘 K线
func (c *Collector) Poll() (Candle, bool) {
	select {
	case candle, ok := <-c.candles:
		return candle, ok
	default:
		return Candle{}, false
	}
}

// Candles 收盘 K线；Close 后关闭
func (c *Collector) Candles() <-chan Candle {
	return c.candles
}

// Updated 有新 K线时触发
func (c *Collector) Updated() <-chan struct{} {
	return c.updated.C()
}

// Close 停止订阅，收盘未完成的 K线后返回
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		<-c.done
	})
}
