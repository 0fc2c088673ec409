package health

import (
	"math"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// 详细健康检查执行的检查项
const (
	CheckConnectivity = "connectivity"
	CheckLatency      = "latency"
	CheckPoolStatus   = "pool_status"
)

// EngineInfo 连接池快照
type EngineInfo struct {
	Driver     string `json:"driver"`
	PoolSize   int    `json:"pool_size"`
	CheckedIn  int    `json:"checked_in"`
	CheckedOut int    `json:"checked_out"`
	Overflow   int    `json:"overflow"`
}

// HealthReport 详细健康检查结果。字段名由外部监控消费，不可更改。
type HealthReport struct {
	Status             Status     `json:"status"`
	DatabaseResponsive bool       `json:"database_responsive"`
	ResponseTimeMS     float64    `json:"response_time_ms"`
	Timestamp          float64    `json:"timestamp"`
	ChecksPerformed    []string   `json:"checks_performed"`
	EngineInfo         EngineInfo `json:"engine_info"`
}

// PerformanceReport 性能测试结果。字段名由外部监控消费，不可更改。
type PerformanceReport struct {
	QueriesExecuted   int     `json:"queries_executed"`
	QueriesFailed     int     `json:"queries_failed"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
	MinResponseTimeMS float64 `json:"min_response_time_ms"`
	MaxResponseTimeMS float64 `json:"max_response_time_ms"`
	SuccessRate       float64 `json:"success_rate"`
}

// summarize 聚合单次查询结果；延迟统计只计入成功的查询
func summarize(latencies []time.Duration, failed []bool) PerformanceReport {
	report := PerformanceReport{QueriesExecuted: len(latencies)}
	if len(latencies) == 0 {
		return report
	}

	var total, lo, hi time.Duration
	succeeded := 0
	for i, d := range latencies {
		if failed[i] {
			report.QueriesFailed++
			continue
		}
		if succeeded == 0 || d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
		total += d
		succeeded++
	}

	if succeeded > 0 {
		report.AvgResponseTimeMS = round2(millis(total) / float64(succeeded))
		report.MinResponseTimeMS = round2(millis(lo))
		report.MaxResponseTimeMS = round2(millis(hi))
	}
	report.SuccessRate = round2(float64(succeeded) / float64(len(latencies)) * 100)
	return report
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
