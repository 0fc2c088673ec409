// =============================================================================
// datalayer 主入口
// =============================================================================
// 数据访问层的运维入口：一次性健康检查、性能测试与常驻探针服务
//
// 使用方法:
//
//	datalayer check --config datalayer.yaml   # 详细健康检查，unhealthy 时退出码 1
//	datalayer bench -n 100 -concurrency 4      # 性能测试
//	datalayer probe --config datalayer.yaml    # 启动探针 HTTP 服务
//	datalayer version                          # 显示版本信息
//
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/datalayer/config"
	"github.com/BaSui01/datalayer/database"
	"github.com/BaSui01/datalayer/health"
	"github.com/BaSui01/datalayer/internal/metrics"
	"github.com/BaSui01/datalayer/internal/server"
	"github.com/BaSui01/datalayer/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run 分发子命令并返回退出码
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}

	switch args[0] {
	case "check":
		return runCheck(ctx, args[1:], stdout, stderr)
	case "bench":
		return runBench(ctx, args[1:], stdout, stderr)
	case "probe":
		return runProbe(ctx, args[1:], stderr)
	case "version":
		printVersion(stdout)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

// =============================================================================
// 🏥 check 命令
// =============================================================================

func runCheck(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app, err := bootstrap(ctx, *configPath, nil, stderr)
	if err != nil {
		return 1
	}
	defer app.close()

	report := app.monitor.CheckDetailedHealth(ctx)
	if err := writeReport(stdout, report); err != nil {
		fmt.Fprintf(stderr, "Failed to write report: %v\n", err)
		return 1
	}
	if report.Status == health.StatusUnhealthy {
		return 1
	}
	return 0
}

// =============================================================================
// 🏎️ bench 命令
// =============================================================================

func runBench(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	n := fs.Int("n", 10, "Number of probe queries")
	concurrency := fs.Int("concurrency", 0, "Concurrent queries (overrides probe.perf_concurrency)")
	qps := fs.Float64("rate", -1, "Max queries per second, 0 for unlimited (overrides probe.perf_rate_limit)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *n <= 0 {
		fmt.Fprintln(stderr, "-n must be positive")
		return 2
	}

	var extra []health.Option
	if *concurrency > 0 {
		extra = append(extra, health.WithConcurrency(*concurrency))
	}
	if *qps >= 0 {
		extra = append(extra, health.WithRateLimit(*qps))
	}

	app, err := bootstrap(ctx, *configPath, extra, stderr)
	if err != nil {
		return 1
	}
	defer app.close()

	report := app.monitor.RunPerformanceTest(ctx, *n)
	if err := writeReport(stdout, report); err != nil {
		fmt.Fprintf(stderr, "Failed to write report: %v\n", err)
		return 1
	}
	if report.QueriesFailed == report.QueriesExecuted {
		return 1
	}
	return 0
}

// =============================================================================
// 🌐 probe 命令
// =============================================================================

func runProbe(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", "", "Listen address (overrides probe.addr)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app, err := bootstrap(ctx, *configPath, nil, stderr)
	if err != nil {
		return 1
	}
	defer app.close()

	probeCfg := app.cfg.Probe
	if *addr != "" {
		probeCfg.Addr = *addr
	}

	handler := NewProbeHandler(app.manager, app.monitor, app.registry, probeCfg, app.logger, app.metrics)
	srv := server.NewManager(handler, server.FromProbeConfig(probeCfg), app.logger)
	if err := srv.Start(); err != nil {
		app.logger.Error("failed to start probe server", zap.Error(err))
		return 1
	}

	if err := srv.Wait(ctx); err != nil {
		app.logger.Error("probe server stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

// =============================================================================
// 🔧 启动装配
// =============================================================================

// app 聚合一次命令执行所需的组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	providers *telemetry.Providers
	manager   *database.Manager
	monitor   *health.Monitor
}

// bootstrap 加载配置、初始化日志/指标/遥测与连接管理器
func bootstrap(ctx context.Context, configPath string, extra []health.Option, stderr io.Writer) (*app, error) {
	loader := config.NewLoader().WithNamedOptions()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	settings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return nil, err
	}

	logger := initLogger(cfg.Log)
	logger.Info("starting datalayer",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("database", settings.RedactedURL()),
		zap.String("environment", string(settings.Environment)),
	)

	providers, err := telemetry.Init(cfg.Telemetry, settings, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		providers: providers,
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
	}

	a.manager = database.NewManager(
		database.WithLogger(logger),
		database.WithMetrics(a.metrics),
	)
	if err := a.manager.Initialize(ctx, settings); err != nil {
		logger.Error("failed to initialize database", zap.Error(err))
		a.close()
		return nil, err
	}

	opts := []health.Option{
		health.WithLogger(logger),
		health.WithMetrics(a.metrics),
		health.WithLatencyThreshold(settings.HealthLatencyThreshold),
		health.WithConcurrency(cfg.Probe.PerfConcurrency),
		health.WithRateLimit(cfg.Probe.PerfRateLimit),
	}
	a.monitor = health.NewMonitor(a.manager, append(opts, extra...)...)
	return a, nil
}

// close 按依赖逆序释放资源
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Error("database shutdown failed", zap.Error(err))
		}
	}
	if err := a.providers.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func writeReport(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "datalayer %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `datalayer - Data access layer operations

Usage:
  datalayer <command> [options]

Commands:
  check     Run a detailed health check and print the report
  bench     Run a performance test and print the report
  probe     Start the health probe HTTP server
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'bench':
  -n <count>          Number of probe queries (default 10)
  -concurrency <n>    Concurrent queries
  -rate <qps>         Max queries per second, 0 for unlimited

Options for 'probe':
  --addr <addr>       Listen address (default :8081)

Environment:
  DATABASE_URL, DB_POOL_SIZE, DB_MAX_OVERFLOW, DB_POOL_TIMEOUT, DB_POOL_RECYCLE,
  DB_QUERY_TIMEOUT, DB_CONNECTION_RETRIES, DB_ECHO, ENVIRONMENT
  DATALAYER_<SECTION>_<FIELD> for every other setting

Examples:
  DATABASE_URL=sqlite:// ENVIRONMENT=development datalayer check
  datalayer bench --config /etc/datalayer/config.yaml -n 200 -concurrency 8
  datalayer probe --addr :9090`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
