// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 的所有方法均为空操作。
type Collector struct {
	// HTTP 指标（探针服务）
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 连接池指标
	poolSize       *prometheus.GaugeVec
	poolCheckedIn  *prometheus.GaugeVec
	poolCheckedOut *prometheus.GaugeVec
	poolOverflow   *prometheus.GaugeVec
	acquireTotal   *prometheus.CounterVec
	acquireLatency *prometheus.HistogramVec
	acquireRetries *prometheus.CounterVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec
	dbQueryErrors   *prometheus.CounterVec

	// 健康指标
	healthStatus       *prometheus.GaugeVec
	healthResponseTime *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of probe HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Probe HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 连接池指标
	c.poolSize = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_size",
			Help:      "Configured base pool size",
		},
		[]string{"driver"},
	)

	c.poolCheckedIn = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_checked_in",
			Help:      "Number of idle pooled connections",
		},
		[]string{"driver"},
	)

	c.poolCheckedOut = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_checked_out",
			Help:      "Number of connections bound to sessions",
		},
		[]string{"driver"},
	)

	c.poolOverflow = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_overflow",
			Help:      "Number of open connections beyond the base pool size",
		},
		[]string{"driver"},
	)

	c.acquireTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_session_acquire_total",
			Help:      "Total number of session acquisitions by outcome",
		},
		[]string{"driver", "outcome"},
	)

	c.acquireLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_session_acquire_duration_seconds",
			Help:      "Time spent acquiring a session in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"driver"},
	)

	c.acquireRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_connect_retries_total",
			Help:      "Total number of connection retries after transient failures",
		},
		[]string{"driver"},
	)

	// 数据库指标
	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"driver", "operation"},
	)

	c.dbQueryErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_query_errors_total",
			Help:      "Total number of failed database operations by error code",
		},
		[]string{"driver", "operation", "code"},
	)

	// 健康指标
	c.healthStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_health_status",
			Help:      "Current health status (1 for the active status label)",
		},
		[]string{"status"},
	)

	c.healthResponseTime = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_health_response_seconds",
			Help:      "Health probe round-trip time in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"probe"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 连接池与数据库指标记录
// =============================================================================

// RecordPool 记录连接池快照
func (c *Collector) RecordPool(driver string, size, checkedIn, checkedOut, overflow int) {
	if c == nil {
		return
	}
	c.poolSize.WithLabelValues(driver).Set(float64(size))
	c.poolCheckedIn.WithLabelValues(driver).Set(float64(checkedIn))
	c.poolCheckedOut.WithLabelValues(driver).Set(float64(checkedOut))
	c.poolOverflow.WithLabelValues(driver).Set(float64(overflow))
}

// RecordAcquire 记录一次会话获取；outcome 为 ok 或错误码
func (c *Collector) RecordAcquire(driver, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.acquireTotal.WithLabelValues(driver, outcome).Inc()
	c.acquireLatency.WithLabelValues(driver).Observe(duration.Seconds())
}

// RecordRetry 记录一次连接重试
func (c *Collector) RecordRetry(driver string) {
	if c == nil {
		return
	}
	c.acquireRetries.WithLabelValues(driver).Inc()
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(driver, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(driver, operation).Observe(duration.Seconds())
}

// RecordDBError 记录失败的数据库操作
func (c *Collector) RecordDBError(driver, operation, code string) {
	if c == nil {
		return
	}
	c.dbQueryErrors.WithLabelValues(driver, operation, code).Inc()
}

// =============================================================================
// 🩺 健康指标记录
// =============================================================================

var healthStatuses = []string{"healthy", "degraded", "unhealthy"}

// RecordHealth 记录健康状态与探测耗时
func (c *Collector) RecordHealth(status string, responseTime time.Duration) {
	if c == nil {
		return
	}
	for _, s := range healthStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.healthStatus.WithLabelValues(s).Set(v)
	}
	c.healthResponseTime.WithLabelValues("detailed").Observe(responseTime.Seconds())
}

// RecordProbeQuery 记录性能测试中的单次查询耗时
func (c *Collector) RecordProbeQuery(duration time.Duration) {
	if c == nil {
		return
	}
	c.healthResponseTime.WithLabelValues("performance").Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
