package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "chatplugin"

// Collector 指标收集器
type Collector struct {
	// 会话指标
	conversationsTotal   *prometheus.CounterVec
	conversationDuration prometheus.Histogram

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// API 调用指标
	apiInvocationsTotal   *prometheus.CounterVec
	apiInvocationDuration *prometheus.HistogramVec

	// 解析与缓存指标
	resolutionErrors *prometheus.CounterVec
	bundleCache      *prometheus.CounterVec

	// HTTP 服务指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.conversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Total number of conversations by outcome",
		},
		[]string{"outcome"},
	)

	c.conversationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_duration_seconds",
			Help:      "Conversation duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of LLM tokens used",
		},
		[]string{"provider", "model", "type"},
	)

	c.apiInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_invocations_total",
			Help:      "Total number of target API invocations",
		},
		[]string{"method", "status"},
	)

	c.apiInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_invocation_duration_seconds",
			Help:      "Target API invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	c.resolutionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_resolution_errors_total",
			Help:      "Schema reference errors absorbed while summarizing",
		},
		[]string{"code"},
	)

	c.bundleCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_cache_total",
			Help:      "Plugin bundle cache lookups by result",
		},
		[]string{"result"},
	)

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordConversation 记录一次会话结果
func (c *Collector) RecordConversation(outcome string, duration time.Duration) {
	c.conversationsTotal.WithLabelValues(outcome).Inc()
	c.conversationDuration.Observe(duration.Seconds())
}

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordAPIInvocation 记录目标 API 调用，status 为状态码或 "error"
func (c *Collector) RecordAPIInvocation(method, status string, duration time.Duration) {
	c.apiInvocationsTotal.WithLabelValues(method, status).Inc()
	c.apiInvocationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordResolutionError 记录被吸收的 $ref 解析错误
func (c *Collector) RecordResolutionError(code string) {
	c.resolutionErrors.WithLabelValues(code).Inc()
}

// RecordBundleCache 记录插件缓存查询结果
func (c *Collector) RecordBundleCache(result string) {
	c.bundleCache.WithLabelValues(result).Inc()
}

// RecordHTTPRequest 记录 serve 模式下的 HTTP 请求，path 应为路由模板
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// WriteTextfile writes every metric in the default registry to path in the
// Prometheus text format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
