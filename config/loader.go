// =============================================================================
// 📦 datalayer 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖 + 传统命名选项
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("datalayer.yaml").
//	    WithEnvPrefix("DATALAYER").
//	    WithNamedOptions().
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 命名选项 (DATABASE_URL 等)
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 datalayer 的完整配置结构
type Config struct {
	// Database 数据访问层配置（原始值，需经 Validate 得到 Settings）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Probe 健康探针服务配置
	Probe ProbeConfig `yaml:"probe" env:"PROBE"`
}

// DatabaseConfig 原始数据库配置。
// 指针字段为 nil 表示未设置，由 Validate 按环境补全默认值；
// 显式的 0 会被保留并参与校验。
type DatabaseConfig struct {
	// 连接 URL: sqlite://, postgres://, mysql://
	URL string `yaml:"url" env:"URL"`
	// 部署环境: production, development, test
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// 是否回显 SQL（production 强制关闭）
	Echo *bool `yaml:"echo" env:"ECHO"`
	// 连接池大小
	PoolSize *int `yaml:"pool_size" env:"POOL_SIZE"`
	// 超出连接池大小的溢出连接上限
	MaxOverflow *int `yaml:"max_overflow" env:"MAX_OVERFLOW"`
	// 获取连接的最长等待时间
	PoolTimeout *time.Duration `yaml:"pool_timeout" env:"POOL_TIMEOUT"`
	// 连接回收时间
	PoolRecycle *time.Duration `yaml:"pool_recycle" env:"POOL_RECYCLE"`
	// 单条语句超时
	QueryTimeout *time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
	// 瞬时故障重试次数
	ConnectionRetries *int `yaml:"connection_retries" env:"CONNECTION_RETRIES"`
	// 退避初始延迟
	RetryBaseDelay *time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	// 退避延迟上限
	RetryMaxDelay *time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	// healthy/degraded 延迟阈值
	HealthLatencyThreshold *time.Duration `yaml:"health_latency_threshold" env:"HEALTH_LATENCY_THRESHOLD"`
	// 关闭时等待进行中会话的宽限期
	ShutdownGracePeriod *time.Duration `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD"`
	// 后台健康日志间隔（0 表示关闭）
	HealthCheckInterval *time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 分页最大条数
	MaxPageSize *int `yaml:"max_page_size" env:"MAX_PAGE_SIZE"`
	// 初始化时执行一次预热探测
	WarmUp bool `yaml:"warm_up" env:"WARM_UP"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ProbeConfig 健康探针 HTTP 服务配置
type ProbeConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// /perf 单次请求允许的最大查询数
	PerfMaxQueries int `yaml:"perf_max_queries" env:"PERF_MAX_QUERIES"`
	// 性能测试并发度（1 为顺序执行）
	PerfConcurrency int `yaml:"perf_concurrency" env:"PERF_CONCURRENCY"`
	// 性能测试每秒查询数上限（0 为不限速）
	PerfRateLimit float64 `yaml:"perf_rate_limit" env:"PERF_RATE_LIMIT"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath   string
	envPrefix    string
	namedOptions bool
	lookup       func(string) (string, bool)
	validators   []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DATALAYER",
		lookup:     os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithNamedOptions 启用传统命名选项（DATABASE_URL、DB_POOL_SIZE 等），
// 其优先级高于带前缀的环境变量。
func (l *Loader) WithNamedOptions() *Loader {
	l.namedOptions = true
	return l
}

// WithLookup 替换环境变量查找函数（测试用）
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookup = lookup
	}
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量 → 命名选项
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 传统命名选项
	if l.namedOptions {
		if err := applyNamedOptions(&cfg.Database, l.lookup); err != nil {
			return nil, fmt.Errorf("failed to load named options: %w", err)
		}
	}

	// 5. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue, ok := l.lookup(envKey)
		if !ok || envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值，指针字段会分配新值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Kind() == reflect.Pointer {
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	value = strings.TrimSpace(value)

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == durationType {
			d, err := ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// ParseDuration 解析时长，接受 Go 时长格式 ("30s", "1m30s")
// 或不带单位的秒数 ("30", "0.5")。
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithNamedOptions().Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置（含命名选项）
func LoadFromEnv() (*Config, error) {
	return NewLoader().WithNamedOptions().Load()
}

// Validate 验证配置，返回校验后的数据库 Settings
func (c *Config) Validate() (Settings, error) {
	var errs []string

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if c.Probe.PerfConcurrency < 0 {
		errs = append(errs, "probe perf_concurrency must not be negative")
	}
	if c.Probe.PerfRateLimit < 0 {
		errs = append(errs, "probe perf_rate_limit must not be negative")
	}
	if len(errs) > 0 {
		return Settings{}, fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return Validate(c.Database)
}
