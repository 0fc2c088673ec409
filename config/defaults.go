// =============================================================================
// 📦 datalayer 默认配置
// =============================================================================
// 数据库连接池相关默认值由 Validate 按环境补全，这里只给出外围默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Probe:     DefaultProbeConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置。
// URL 为空（必须显式配置），其余池参数留空以便按环境取默认值。
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Environment: string(EnvDevelopment),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "datalayer",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "datalayer",
		SampleRate:   0.1,
	}
}

// DefaultProbeConfig 返回默认探针服务配置
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Addr:            ":8081",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		PerfMaxQueries:  1000,
		PerfConcurrency: 1,
	}
}
