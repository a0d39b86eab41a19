// Package broker 封装 Redis Streams 消费组：建组、读取、确认以及发布 intent。
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/intent"
)

// IntentField 流条目中保存 intent JSON 的字段名
const IntentField = "intent"

// Entry 一条流消息
type Entry struct {
	ID     string
	Values map[string]interface{}
}

// Field 以字符串形式取字段
func (e Entry) Field(name string) (string, bool) {
	v, ok := e.Values[name]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// Stream 消费组操作
type Stream interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context) ([]Entry, error)
	Ack(ctx context.Context, id string) error
}

// Options 流参数
type Options struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration // 必须 > 0；0 在 Redis 中表示无限阻塞
	MaxLen   int64         // Publish 时近似裁剪长度，0 不裁剪
}

// RedisStream go-redis 实现
type RedisStream struct {
	client redis.UniversalClient
	opts   Options
	log    *logrus.Entry
}

func NewRedisStream(client redis.UniversalClient, opts Options) *RedisStream {
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &RedisStream{
		client: client,
		opts:   opts,
		log:    logrus.WithFields(logrus.Fields{"component": "broker", "stream": opts.Stream, "group": opts.Group}),
	}
}

// Dial 解析 redis:// URL 并检查连通性
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", opt.Addr)
	}
	return client, nil
}

// EnsureGroup XGROUP CREATE <stream> <group> 0 MKSTREAM；组已存在不算错误
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.opts.Stream, s.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "create group %s on %s", s.opts.Group, s.opts.Stream)
	}
	s.log.Info("消费组已就绪")
	return nil
}

// Read 读取新消息（ID ">"），超时无消息时返回空
func (s *RedisStream) Read(ctx context.Context) ([]Entry, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Stream, ">"},
		Count:    s.opts.Count,
		Block:    s.opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, st := range streams {
		for _, msg := range st.Messages {
			out = append(out, Entry{ID: msg.ID, Values: msg.Values})
		}
	}
	return out, nil
}

// Ack XACK
func (s *RedisStream) Ack(ctx context.Context, id string) error {
	return s.client.XAck(ctx, s.opts.Stream, s.opts.Group, id).Err()
}

// Publish 为 payload 生成 intent 并 XADD，返回 intent id
func (s *RedisStream) Publish(ctx context.Context, principal string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode payload")
	}
	in := intent.Intent{
		ID:        uuid.NewString(),
		Principal: principal,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(in)
	if err != nil {
		return "", errors.Wrap(err, "encode intent")
	}

	args := &redis.XAddArgs{
		Stream: s.opts.Stream,
		Values: map[string]interface{}{IntentField: string(encoded)},
	}
	if s.opts.MaxLen > 0 {
		args.MaxLen = s.opts.MaxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return "", errors.Wrap(err, "xadd")
	}
	s.log.WithFields(logrus.Fields{"intent_id": in.ID, "principal": principal}).Info("已发布 intent")
	return in.ID, nil
}

// Pending 本组尚未确认的消息数
func (s *RedisStream) Pending(ctx context.Context) (int64, error) {
	p, err := s.client.XPending(ctx, s.opts.Stream, s.opts.Group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}
