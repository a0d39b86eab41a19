// Package worker 是消息流的消费循环：读取、解码、交给 Handler，然后确认。
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/broker"
	"github.com/betbot/autotrader/internal/intent"
	"github.com/betbot/autotrader/internal/metrics"
)

// Handler 处理一个已解码的 intent
type Handler interface {
	Handle(ctx context.Context, in *intent.Intent) error
}

// Worker 单 goroutine 顺序消费。每条消息最多处理一次：无论成功与否都会 ack。
type Worker struct {
	stream  broker.Stream
	handler Handler
	backoff time.Duration
	log     *logrus.Entry
}

func New(stream broker.Stream, handler Handler, backoff time.Duration) *Worker {
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Worker{
		stream:  stream,
		handler: handler,
		backoff: backoff,
		log:     logrus.WithField("component", "worker"),
	}
}

// Run 阻塞直到 ctx 取消。读取失败时退避后重试。
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("开始消费")
	for {
		if ctx.Err() != nil {
			w.log.Info("停止消费")
			return nil
		}

		entries, err := w.stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.StreamReadErrors.Inc()
			w.log.Errorf("读取消息流失败: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.backoff):
			}
			continue
		}

		for _, e := range entries {
			// 已取出的消息处理完并确认后再退出
			w.process(context.WithoutCancel(ctx), e)
		}
	}
}

func (w *Worker) process(ctx context.Context, e broker.Entry) {
	entry := w.log.WithField("entry_id", e.ID)

	result := "handled"
	raw, ok := e.Field(broker.IntentField)
	if !ok {
		entry.Warn("消息缺少 intent 字段，直接确认")
		result = "malformed"
	} else if in, err := intent.Decode([]byte(raw)); err != nil {
		entry.Warnf("intent 解码失败，直接确认: %v", err)
		result = "malformed"
	} else if err := w.handler.Handle(ctx, in); err != nil {
		entry.WithFields(logrus.Fields{"intent_id": in.ID, "principal": in.Principal}).Errorf("处理 intent 失败: %v", err)
		result = "failed"
	}

	if err := w.stream.Ack(ctx, e.ID); err != nil {
		entry.Errorf("确认消息失败: %v", err)
		result = "ack_failed"
	}
	metrics.StreamEntriesTotal.WithLabelValues(result).Inc()
}
