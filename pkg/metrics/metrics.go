package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		DocumentTotal, StageDuration,
		RedactionTotal, QueueDepth,
		EnqueueTotal, WorkerBusy,
	)
}

// DocumentTotal 文档处理总数（按终态）
var DocumentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vault_document_total",
		Help: "文档处理总数（按终态）",
	},
	[]string{"status"}, // ready | failed | retried
)

// StageDuration 各处理阶段耗时（秒）
var StageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "vault_stage_duration_seconds",
		Help:    "处理阶段耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"}, // fetch | extracting | redacting | persisting
)

// RedactionTotal 脱敏命中总数（按 PII 类别）
var RedactionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vault_redaction_total",
		Help: "脱敏命中总数（按 PII 类别）",
	},
	[]string{"category"},
)

// QueueDepth 各队列状态的 Job 数（stats 查询时刷新）
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "vault_queue_depth",
		Help: "各状态下的 Job 数",
	},
	[]string{"queue", "state"}, // waiting | active | completed | failed | delayed
)

// EnqueueTotal 入队总数（按结果）
var EnqueueTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vault_enqueue_total",
		Help: "入队总数（按结果）",
	},
	[]string{"result"}, // ok | duplicate | error
)

// WorkerBusy 当前正在处理的 Job 数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "vault_worker_busy",
		Help: "当前正在处理的 Job 数",
	},
	[]string{"worker_id"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
