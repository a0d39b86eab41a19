package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/metrics"
)

// PendingCounter 可查询消费组未确认消息数
type PendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

// ReportPending 每隔 every 把未确认消息数写入 exec_stream_pending，直到 ctx 取消
func ReportPending(ctx context.Context, src PendingCounter, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	log := logrus.WithField("component", "worker")

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n, err := src.Pending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("查询未确认消息数失败: %v", err)
		} else {
			metrics.StreamPending.Set(float64(n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
