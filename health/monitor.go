package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/datalayer/config"
	"github.com/BaSui01/datalayer/database"
	"github.com/BaSui01/datalayer/internal/metrics"
)

// =============================================================================
// 🩺 健康监测
// =============================================================================

// DefaultSaturationThreshold 借出连接占比达到该值即视为接近饱和
const DefaultSaturationThreshold = 0.8

// DefaultProbeTimeout 单次探测（获取会话 + 往返查询）的超时
const DefaultProbeTimeout = 5 * time.Second

// SessionSource 是监测所需的连接管理器公开接口，*database.Manager 即满足
type SessionSource interface {
	WithSession(ctx context.Context, fn func(*database.Session) error) error
	PoolStats() database.PoolSnapshot
}

// Monitor 执行健康探测与性能测试。所有方法都不返回错误也不 panic，
// 失败体现在报告的状态与失败计数中。
type Monitor struct {
	source              SessionSource
	logger              *zap.Logger
	metrics             *metrics.Collector
	latencyThreshold    time.Duration
	saturationThreshold float64
	probeTimeout        time.Duration
	concurrency         int
	limiter             *rate.Limiter
	now                 func() time.Time
}

// Option 监测器选项
type Option func(*Monitor)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// WithLatencyThreshold 设置 healthy/degraded 的延迟分界
func WithLatencyThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.latencyThreshold = d
		}
	}
}

// WithSaturationThreshold 设置视为接近饱和的借出占比（0, 1]
func WithSaturationThreshold(v float64) Option {
	return func(m *Monitor) {
		if v > 0 && v <= 1 {
			m.saturationThreshold = v
		}
	}
}

// WithProbeTimeout 设置单次探测超时
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithConcurrency 设置性能测试的最大并发查询数，默认 1（顺序执行）
func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithRateLimit 限制性能测试的查询速率（每秒查询数），qps <= 0 表示不限速
func WithRateLimit(qps float64) Option {
	return func(m *Monitor) {
		if qps > 0 {
			m.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		} else {
			m.limiter = nil
		}
	}
}

// NewMonitor 创建监测器
func NewMonitor(source SessionSource, opts ...Option) *Monitor {
	m := &Monitor{
		source:              source,
		logger:              zap.NewNop(),
		latencyThreshold:    config.DefaultHealthLatencyThreshold,
		saturationThreshold: DefaultSaturationThreshold,
		probeTimeout:        DefaultProbeTimeout,
		concurrency:         1,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "health_monitor"))
	return m
}

// =============================================================================
// 🎯 探测
// =============================================================================

// CheckHealth 获取会话、执行一次往返查询并释放，任何失败返回 false
func (m *Monitor) CheckHealth(ctx context.Context) bool {
	if err := m.probe(ctx); err != nil {
		m.logger.Warn("health check failed", zap.Error(err))
		return false
	}
	return true
}

// CheckDetailedHealth 在最小探测之外记录延迟并检查连接池快照。
// 无响应为 unhealthy；响应但延迟超过阈值或连接池接近饱和为 degraded。
func (m *Monitor) CheckDetailedHealth(ctx context.Context) HealthReport {
	start := time.Now()
	err := m.probe(ctx)
	elapsed := time.Since(start)

	stats := m.source.PoolStats()
	report := HealthReport{
		DatabaseResponsive: err == nil,
		ResponseTimeMS:     round2(millis(elapsed)),
		Timestamp:          unixSeconds(m.now()),
		ChecksPerformed:    []string{CheckConnectivity, CheckLatency, CheckPoolStatus},
		EngineInfo: EngineInfo{
			Driver:     stats.Driver,
			PoolSize:   stats.PoolSize,
			CheckedIn:  stats.CheckedIn,
			CheckedOut: stats.CheckedOut,
			Overflow:   stats.Overflow,
		},
	}

	switch {
	case err != nil:
		report.Status = StatusUnhealthy
		m.logger.Error("database unresponsive", zap.Error(err), zap.Duration("elapsed", elapsed))
	case elapsed > m.latencyThreshold:
		report.Status = StatusDegraded
		m.logger.Warn("database responding slowly",
			zap.Duration("latency", elapsed),
			zap.Duration("threshold", m.latencyThreshold),
		)
	case stats.Saturation >= m.saturationThreshold:
		report.Status = StatusDegraded
		m.logger.Warn("connection pool near saturation",
			zap.Float64("saturation", stats.Saturation),
			zap.Int("checked_out", stats.CheckedOut),
			zap.Int("pool_size", stats.PoolSize),
			zap.Int("max_overflow", stats.MaxOverflow),
		)
	default:
		report.Status = StatusHealthy
	}

	m.metrics.RecordHealth(string(report.Status), elapsed)
	return report
}

// RunPerformanceTest 执行 numQueries 次往返查询，默认顺序执行，
// WithConcurrency 时以有界并发执行。单次失败只计数，不中断批次。
func (m *Monitor) RunPerformanceTest(ctx context.Context, numQueries int) PerformanceReport {
	if numQueries <= 0 {
		return PerformanceReport{}
	}

	latencies := make([]time.Duration, numQueries)
	failed := make([]bool, numQueries)

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for i := 0; i < numQueries; i++ {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				failed[i] = true
				continue
			}
		}
		g.Go(func() error {
			start := time.Now()
			err := m.probe(ctx)
			latencies[i] = time.Since(start)
			failed[i] = err != nil
			if err == nil {
				m.metrics.RecordProbeQuery(latencies[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	report := summarize(latencies, failed)
	m.logger.Info("performance test completed",
		zap.Int("queries_executed", report.QueriesExecuted),
		zap.Int("queries_failed", report.QueriesFailed),
		zap.Float64("avg_response_time_ms", report.AvgResponseTimeMS),
		zap.Float64("success_rate", report.SuccessRate),
		zap.Int("concurrency", m.concurrency),
	)
	return report
}

// probe 执行一次完整的获取-查询-释放，panic 被转换为错误
func (m *Monitor) probe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	return m.source.WithSession(ctx, func(s *database.Session) error {
		return s.Ping(ctx)
	})
}
