// Package monitoring 服务指标（Prometheus）
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 推理服务指标
type Metrics struct {
	RequestCount     *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	PipelineFailures *prometheus.CounterVec
	InstanceCount    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// RequestCount 按端点与状态码统计请求数
func RequestCount() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferserve_requests_total",
			Help: "Total number of HTTP requests by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)
}

// StageDuration 流水线各阶段耗时
func StageDuration() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferserve_stage_duration_seconds",
			Help:    "Duration of inference pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"stage"},
	)
}

// PipelineFailures 流水线失败次数
func PipelineFailures() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferserve_pipeline_failures_total",
			Help: "Total number of failed requests by endpoint and failing stage",
		},
		[]string{"endpoint", "stage"},
	)
}

// InstanceCount 已处理实例数
func InstanceCount() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferserve_instances_total",
			Help: "Total number of instances scored",
		},
		[]string{"endpoint"},
	)
}

// NewMetrics 创建并注册指标
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCount:     RequestCount(),
		StageDuration:    StageDuration(),
		PipelineFailures: PipelineFailures(),
		InstanceCount:    InstanceCount(),
		gatherer:         reg,
	}
	reg.MustRegister(m.RequestCount, m.StageDuration, m.PipelineFailures, m.InstanceCount)
	return m
}

// NewDefaultMetrics 使用带Go运行时与进程指标的新注册表
func NewDefaultMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewMetrics(reg)
}

// ObserveStage 记录阶段耗时，m为nil时忽略
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Handler /metrics处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
