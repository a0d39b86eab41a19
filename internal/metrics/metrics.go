package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry 本进程的指标注册表（不使用全局 DefaultRegisterer）
var Registry = prometheus.NewRegistry()

var (
	// IntentsTotal 按负载类型和处理结果计数
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exec_intents_total", Help: "Intents handled, by kind and outcome"},
		[]string{"kind", "outcome"},
	)
	// StreamEntriesTotal 流条目：handled / malformed / ack_failed
	StreamEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exec_stream_entries_total", Help: "Stream entries processed by the ingestion loop"},
		[]string{"result"},
	)
	// StreamReadErrors 读取流失败次数
	StreamReadErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "exec_stream_read_errors_total", Help: "Failed stream reads"},
	)
	// StreamPending 消费组已投递但未确认的消息数
	StreamPending = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "exec_stream_pending", Help: "Entries delivered to the consumer group but not yet acknowledged"},
	)
	// HandleSeconds 单个 intent 处理耗时
	HandleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "exec_handle_seconds", Help: "Intent handling latency", Buckets: prometheus.DefBuckets},
	)
	// SignedTxTotal 按钱包统计签名成功的交易
	SignedTxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exec_swaps_sent_total", Help: "Swap transactions broadcast, by wallet"},
		[]string{"wallet"},
	)
)

func init() {
	Registry.MustRegister(
		IntentsTotal,
		StreamEntriesTotal,
		StreamReadErrors,
		StreamPending,
		HandleSeconds,
		SignedTxTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
