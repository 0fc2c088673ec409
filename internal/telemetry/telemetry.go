package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/datalayer/config"
)

// InstrumentationName 数据访问层 span 的 instrumentation scope
const InstrumentationName = "github.com/BaSui01/datalayer"

// Tracer 每次从全局 provider 解析，Init 之后创建的 span 使用 SDK provider
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider，禁用时均为 nil
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// =============================================================================
// 🛰️ 初始化
// =============================================================================

// Init 按配置安装全局 provider。cfg.Enabled 为 false 时不创建任何 exporter。
// 资源属性携带服务信息与所连接的数据库类型、部署环境。
func Init(cfg config.TelemetryConfig, s config.Settings, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telemetry"))

	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(ResourceAttributes(cfg, s)...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		),
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
			sdkmetric.WithResource(res),
		),
	}
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("db_system", dbSystem(s.Driver).Value.AsString()),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

// ResourceAttributes 返回服务与数据库的资源属性
func ResourceAttributes(cfg config.TelemetryConfig, s config.Settings) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(Version()),
		dbSystem(s.Driver),
	}
	if s.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(string(s.Environment)))
	}
	if s.InMemory {
		attrs = append(attrs, attribute.Bool("datalayer.in_memory", true))
	}
	return attrs
}

func dbSystem(d config.DriverKind) attribute.KeyValue {
	switch d {
	case config.DriverPostgres:
		return semconv.DBSystemPostgreSQL
	case config.DriverMySQL:
		return semconv.DBSystemMySQL
	case config.DriverSQLite:
		return semconv.DBSystemSqlite
	}
	return semconv.DBSystemOtherSQL
}

// Shutdown 刷出未发送的 span 与指标并关闭 exporter，nil 或禁用时为空操作
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Version 从构建信息读取模块版本，缺失时为 "dev"
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
