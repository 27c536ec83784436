package monitoring

import (
	"errors"
	"net/http"
	"time"

	"mailq/backend/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 队列指标
	QueueMessages   *prometheus.GaugeVec
	QueueBytes      prometheus.Gauge
	StoreLoadedAt   prometheus.Gauge
	LoadsTotal      *prometheus.CounterVec
	LoadDuration    *prometheus.HistogramVec
	SelectionSize   prometheus.Gauge
	FiltersApplied  prometheus.Gauge
	ParsesTotal     *prometheus.CounterVec
	ParseCacheHits  prometheus.Counter
	ParseCacheMiss  prometheus.Counter

	// 管理操作指标
	OperationsTotal   *prometheus.CounterVec
	OperationMessages *prometheus.CounterVec
	CommandErrors     *prometheus.CounterVec

	// 系统指标
	PanicsTotal      prometheus.Counter
	RateLimitBlocks  *prometheus.CounterVec
	WebsocketClients prometheus.Gauge
	AlertsTriggered  *prometheus.CounterVec
}

// NewMetrics 创建监控指标并注册到 registry，registry 为 nil 时新建一个
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailq_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		QueueMessages: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailq_queue_messages",
				Help: "Number of messages in the loaded queue by status",
			},
			[]string{"status"},
		),
		QueueBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailq_queue_bytes",
				Help: "Total size of the loaded queue in bytes",
			},
		),
		StoreLoadedAt: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailq_store_loaded_timestamp_seconds",
				Help: "Unix time of the last successful queue load",
			},
		),
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_loads_total",
				Help: "Total number of queue loads",
			},
			[]string{"method", "result"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailq_load_duration_seconds",
				Help:    "Queue load duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"method"},
		),
		SelectionSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailq_selection_messages",
				Help: "Number of messages in the current selection",
			},
		),
		FiltersApplied: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailq_selection_filters",
				Help: "Number of filters recorded on the current selection",
			},
		),
		ParsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_message_parses_total",
				Help: "Total number of message content parses",
			},
			[]string{"result"},
		),
		ParseCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailq_parse_cache_hits_total",
				Help: "Total number of message dumps served from cache",
			},
		),
		ParseCacheMiss: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailq_parse_cache_misses_total",
				Help: "Total number of message dumps that required postcat",
			},
		),

		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_operations_total",
				Help: "Total number of administration batches",
			},
			[]string{"operation", "result"},
		),
		OperationMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_operation_messages_total",
				Help: "Total number of messages submitted to administration batches",
			},
			[]string{"operation"},
		),
		CommandErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_command_errors_total",
				Help: "Total number of external command failures by kind",
			},
			[]string{"kind"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailq_panics_total",
				Help: "Total number of recovered panics",
			},
		),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
			[]string{"limit"},
		),
		WebsocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailq_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),
		AlertsTriggered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_alerts_triggered_total",
				Help: "Total number of triggered alerts",
			},
			[]string{"rule"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLoad 记录一次队列加载，成功时同时更新队列统计
func (m *Metrics) RecordLoad(method string, duration time.Duration, stats *domain.QueueStatistics, err error) {
	m.LoadDuration.WithLabelValues(method).Observe(duration.Seconds())
	if err != nil {
		m.LoadsTotal.WithLabelValues(method, "error").Inc()
		m.RecordCommandError(err)
		return
	}
	m.LoadsTotal.WithLabelValues(method, "success").Inc()
	if stats != nil {
		m.UpdateQueue(*stats)
	}
}

// UpdateQueue 更新队列统计
func (m *Metrics) UpdateQueue(stats domain.QueueStatistics) {
	for status, count := range stats.ByStatus {
		m.QueueMessages.WithLabelValues(string(status)).Set(float64(count))
	}
	m.QueueBytes.Set(float64(stats.TotalBytes))
	if stats.LoadedAt != nil {
		m.StoreLoadedAt.Set(float64(stats.LoadedAt.Unix()))
	}
}

// UpdateSelection 更新当前筛选结果
func (m *Metrics) UpdateSelection(messages, filters int) {
	m.SelectionSize.Set(float64(messages))
	m.FiltersApplied.Set(float64(filters))
}

// RecordParse 记录邮件内容解析
func (m *Metrics) RecordParse(cached bool, err error) {
	if cached {
		m.ParseCacheHits.Inc()
		return
	}
	m.ParseCacheMiss.Inc()
	if err != nil {
		m.ParsesTotal.WithLabelValues("error").Inc()
		m.RecordCommandError(err)
		return
	}
	m.ParsesTotal.WithLabelValues("success").Inc()
}

// RecordOperation 记录一次管理操作
func (m *Metrics) RecordOperation(op domain.Operation, messages int, err error) {
	result := "success"
	if err != nil {
		result = "error"
		m.RecordCommandError(err)
	}
	m.OperationsTotal.WithLabelValues(string(op), result).Inc()
	m.OperationMessages.WithLabelValues(string(op)).Add(float64(messages))
}

// RecordCommandError 按错误分类计数
func (m *Metrics) RecordCommandError(err error) {
	if err == nil {
		return
	}
	m.CommandErrors.WithLabelValues(ErrorKind(err)).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limit string) {
	m.RateLimitBlocks.WithLabelValues(limit).Inc()
}

// UpdateWebsocketClients 更新 websocket 连接数
func (m *Metrics) UpdateWebsocketClients(count int) {
	m.WebsocketClients.Set(float64(count))
}

// RecordAlert 记录告警
func (m *Metrics) RecordAlert(rule string) {
	m.AlertsTriggered.WithLabelValues(rule).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ErrorKind 返回错误分类名称
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthorization):
		return "authorization"
	case errors.Is(err, domain.ErrExecution):
		return "execution"
	case errors.Is(err, domain.ErrParse):
		return "parse"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "other"
	}
}
