package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/datalayer/config"
	"github.com/BaSui01/datalayer/database"
	"github.com/BaSui01/datalayer/health"
	"github.com/BaSui01/datalayer/internal/metrics"
)

// =============================================================================
// 🩺 探针路由
// =============================================================================

// defaultPerfQueries /perf 未指定 n 时的查询数
const defaultPerfQueries = 10

// probeHandler 暴露健康探测、性能测试与指标
type probeHandler struct {
	manager *database.Manager
	monitor *health.Monitor
	maxPerf int
	logger  *zap.Logger
}

// NewProbeHandler 构造探针服务的完整 HTTP handler（含中间件链）。
// registry 为 nil 时 /metrics 使用默认 Registry。
func NewProbeHandler(
	manager *database.Manager,
	monitor *health.Monitor,
	registry *prometheus.Registry,
	cfg config.ProbeConfig,
	logger *zap.Logger,
	collector *metrics.Collector,
) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &probeHandler{
		manager: manager,
		monitor: monitor,
		maxPerf: cfg.PerfMaxQueries,
		logger:  logger.With(zap.String("component", "probe_handler")),
	}
	if h.maxPerf <= 0 {
		h.maxPerf = config.DefaultProbeConfig().PerfMaxQueries
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	mux.HandleFunc("GET /perf", h.handlePerf)
	mux.HandleFunc("GET /pool", h.handlePool)
	mux.HandleFunc("GET /version", h.handleVersion)
	mux.Handle("GET /metrics", metricsHandler(registry))

	return Chain(mux,
		Recovery(logger),
		RequestID(),
		OTelTracing(),
		RequestLogger(logger),
		MetricsMiddleware(collector),
	)
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// handleHealthz 最小健康探测：200 ok / 503 unavailable
func (h *probeHandler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !h.monitor.CheckHealth(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

// handleReadyz 详细健康报告，unhealthy 时返回 503
func (h *probeHandler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.CheckDetailedHealth(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// handlePerf 执行 n 次探测查询，1 <= n <= PerfMaxQueries
func (h *probeHandler) handlePerf(w http.ResponseWriter, r *http.Request) {
	n := defaultPerfQueries
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > h.maxPerf {
			writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("n must be an integer between 1 and %d", h.maxPerf))
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, h.monitor.RunPerformanceTest(r.Context(), n))
}

// handlePool 连接池快照
func (h *probeHandler) handlePool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.PoolStats())
}

func (h *probeHandler) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
