package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	PushAccepted     prometheus.Counter     // 推送模式接入的连接数
	PushConnsGauge   prometheus.Gauge       // 当前推送连接数
	BytesReceived    prometheus.Counter     // 收到的原始字节数（两种模式合计）
	FrameTotal       *prometheus.CounterVec // labels: result=ok|crc_error|resync
	CommandTotal     *prometheus.CounterVec // labels: cmd, result=ok|device_error|timeout
	TagsObserved     *prometheus.CounterVec // labels: source=scan|push|once
	UniqueTagsGauge  prometheus.Gauge       // 缓存中的唯一 EPC 数
	StoreEvictions   prometheus.Counter     // TTL 清理淘汰的记录数
	CallbackFailures prometheus.Counter     // 回调 panic/失败次数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		PushAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_accept_total",
			Help: "Total accepted push-mode TCP connections.",
		}),
		PushConnsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "push_connections",
			Help: "Current number of open push-mode connections.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_bytes_received_total",
			Help: "Total raw bytes received from readers.",
		}),
		FrameTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cf_frame_total",
			Help: "CF frame decode attempts.",
		}, []string{"result"}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cf_command_total",
			Help: "Client-mode commands by command code and result.",
		}, []string{"cmd", "result"}),
		TagsObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tags_observed_total",
			Help: "Tag reads ingested by source.",
		}, []string{"source"}),
		UniqueTagsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tagstore_unique_epcs",
			Help: "Unique EPCs currently held by the tag store.",
		}),
		StoreEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagstore_evictions_total",
			Help: "Records evicted by TTL cleanup.",
		}),
		CallbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tag_callback_failures_total",
			Help: "Tag event callbacks that panicked or failed.",
		}),
	}
	reg.MustRegister(m.PushAccepted, m.PushConnsGauge, m.BytesReceived, m.FrameTotal,
		m.CommandTotal, m.TagsObserved, m.UniqueTagsGauge, m.StoreEvictions, m.CallbackFailures)
	return m
}
