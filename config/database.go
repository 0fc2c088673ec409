package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/BaSui01/datalayer/types"
)

// =============================================================================
// 🗄️ 数据库配置校验
// =============================================================================

// DriverKind 数据库驱动类别
type DriverKind string

const (
	DriverSQLite   DriverKind = "sqlite"
	DriverPostgres DriverKind = "postgres"
	DriverMySQL    DriverKind = "mysql"
)

// Environment 部署环境
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
)

// 默认值与上限
const (
	DefaultPoolTimeout            = 30 * time.Second
	DefaultPoolRecycle            = time.Hour
	DefaultQueryTimeout           = 30 * time.Second
	DefaultConnectionRetries      = 3
	DefaultRetryBaseDelay         = time.Second
	DefaultRetryMaxDelay          = 30 * time.Second
	DefaultHealthLatencyThreshold = 100 * time.Millisecond
	DefaultShutdownGracePeriod    = 10 * time.Second
	DefaultMaxPageSize            = 1000

	// MaxTotalConnections 是 pool_size + max_overflow 的硬上限
	MaxTotalConnections = 1000
)

type poolDefaults struct {
	size     int
	overflow int
}

var envPoolDefaults = map[Environment]poolDefaults{
	EnvProduction:  {size: 20, overflow: 30},
	EnvDevelopment: {size: 5, overflow: 10},
	EnvTest:        {size: 5, overflow: 10},
}

// Settings 是校验后的不可变数据库配置，只能由 Validate 构造。
type Settings struct {
	URL         string
	DSN         string
	Driver      DriverKind
	Environment Environment
	InMemory    bool
	Echo        bool
	WarmUp      bool

	PoolSize    int
	MaxOverflow int
	PoolTimeout time.Duration
	// PoolRecycle 为 0 表示不回收（仅内存 SQLite）
	PoolRecycle  time.Duration
	QueryTimeout time.Duration

	ConnectionRetries int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration

	HealthLatencyThreshold time.Duration
	ShutdownGracePeriod    time.Duration
	HealthCheckInterval    time.Duration
	MaxPageSize            int
}

// MaxConnections 返回允许同时打开的物理连接总数
func (s Settings) MaxConnections() int {
	return s.PoolSize + s.MaxOverflow
}

// RedactedURL 返回隐藏密码后的连接 URL，用于日志
func (s Settings) RedactedURL() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return string(s.Driver) + "://***"
	}
	return u.Redacted()
}

// Validate 校验原始配置并补全环境相关默认值。
// 任何不变量被违反都返回 CONFIGURATION 错误，不访问网络。
func Validate(raw DatabaseConfig) (Settings, error) {
	env, err := parseEnvironment(raw.Environment)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		Environment: env,
		WarmUp:      raw.WarmUp,
	}

	if err := s.parseURL(raw.URL); err != nil {
		return Settings{}, err
	}

	if s.InMemory && env == EnvProduction {
		return Settings{}, types.NewError(types.ErrConfiguration,
			"in-memory sqlite is only permitted in development or test").WithField("url")
	}

	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	defaults := envPoolDefaults[env]
	s.PoolSize = intOr(raw.PoolSize, defaults.size)
	s.MaxOverflow = intOr(raw.MaxOverflow, defaults.overflow)
	check(s.PoolSize >= 1, "pool_size must be >= 1, got %d", s.PoolSize)
	check(s.MaxOverflow >= 0, "max_overflow must be >= 0, got %d", s.MaxOverflow)

	// 内存库只有一个物理连接
	if s.InMemory {
		s.PoolSize = 1
		s.MaxOverflow = 0
	}
	check(s.MaxConnections() <= MaxTotalConnections,
		"pool_size + max_overflow must be <= %d, got %d", MaxTotalConnections, s.MaxConnections())

	s.PoolTimeout = durationOr(raw.PoolTimeout, DefaultPoolTimeout)
	s.PoolRecycle = durationOr(raw.PoolRecycle, DefaultPoolRecycle)
	s.QueryTimeout = durationOr(raw.QueryTimeout, DefaultQueryTimeout)
	s.RetryBaseDelay = durationOr(raw.RetryBaseDelay, DefaultRetryBaseDelay)
	s.RetryMaxDelay = durationOr(raw.RetryMaxDelay, DefaultRetryMaxDelay)
	s.HealthLatencyThreshold = durationOr(raw.HealthLatencyThreshold, DefaultHealthLatencyThreshold)
	s.ShutdownGracePeriod = durationOr(raw.ShutdownGracePeriod, DefaultShutdownGracePeriod)
	s.HealthCheckInterval = durationOr(raw.HealthCheckInterval, 0)

	check(s.PoolTimeout > 0, "pool_timeout must be > 0, got %s", s.PoolTimeout)
	check(s.PoolRecycle > 0, "pool_recycle must be > 0, got %s", s.PoolRecycle)
	check(s.QueryTimeout > 0, "query_timeout must be > 0, got %s", s.QueryTimeout)
	check(s.RetryBaseDelay > 0, "retry_base_delay must be > 0, got %s", s.RetryBaseDelay)
	check(s.RetryMaxDelay >= s.RetryBaseDelay, "retry_max_delay (%s) must be >= retry_base_delay (%s)",
		s.RetryMaxDelay, s.RetryBaseDelay)
	check(s.HealthLatencyThreshold > 0, "health_latency_threshold must be > 0, got %s", s.HealthLatencyThreshold)
	check(s.ShutdownGracePeriod > 0, "shutdown_grace_period must be > 0, got %s", s.ShutdownGracePeriod)
	check(s.HealthCheckInterval >= 0, "health_check_interval must be >= 0, got %s", s.HealthCheckInterval)

	s.ConnectionRetries = intOr(raw.ConnectionRetries, DefaultConnectionRetries)
	check(s.ConnectionRetries >= 0, "connection_retries must be >= 0, got %d", s.ConnectionRetries)

	s.MaxPageSize = intOr(raw.MaxPageSize, DefaultMaxPageSize)
	check(s.MaxPageSize >= 1, "max_page_size must be >= 1, got %d", s.MaxPageSize)

	if len(errs) > 0 {
		return Settings{}, types.Errorf(types.ErrConfiguration,
			"invalid database configuration: %s", strings.Join(errs, "; "))
	}

	// 内存库的唯一连接不能被回收，否则数据随之丢失
	if s.InMemory {
		s.PoolRecycle = 0
	}

	if raw.Echo != nil && env != EnvProduction {
		s.Echo = *raw.Echo
	}

	return s, nil
}

func parseEnvironment(raw string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "development", "dev":
		return EnvDevelopment, nil
	case "production", "prod":
		return EnvProduction, nil
	case "test", "testing":
		return EnvTest, nil
	default:
		return "", types.Errorf(types.ErrConfiguration, "unknown environment %q", raw).
			WithField("environment")
	}
}

// parseURL 解析连接 URL，确定驱动类别并构造驱动 DSN
func (s *Settings) parseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.NewError(types.ErrConfiguration, "database url is required").WithField("url")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return types.NewError(types.ErrConfiguration, "database url is not parseable").
			WithField("url").WithCause(err)
	}

	// postgresql+psycopg2 → postgresql
	scheme := strings.ToLower(u.Scheme)
	if i := strings.IndexByte(scheme, '+'); i >= 0 {
		scheme = scheme[:i]
	}

	s.URL = raw
	switch scheme {
	case "sqlite", "sqlite3":
		s.Driver = DriverSQLite
		s.DSN, s.InMemory = sqliteDSN(u)
	case "postgres", "postgresql":
		s.Driver = DriverPostgres
		if u.Hostname() == "" {
			return types.NewError(types.ErrConfiguration, "postgres url requires a host").WithField("url")
		}
		pu := *u
		pu.Scheme = "postgres"
		s.DSN = pu.String()
	case "mysql", "mariadb":
		s.Driver = DriverMySQL
		if u.Hostname() == "" {
			return types.NewError(types.ErrConfiguration, "mysql url requires a host").WithField("url")
		}
		s.DSN = mysqlDSN(u)
	default:
		return types.Errorf(types.ErrConfiguration, "unsupported driver %q", u.Scheme).WithField("url")
	}
	return nil
}

// sqliteDSN: sqlite:// 与 sqlite:///:memory: 为内存库；
// sqlite:///app.db 为相对路径，sqlite:////var/app.db 为绝对路径。
func sqliteDSN(u *url.URL) (string, bool) {
	path := strings.TrimPrefix(u.Path, "/")
	if u.Host != "" {
		path = u.Host + u.Path
	}

	q := u.Query()
	q.Set("_foreign_keys", "on")

	if path == "" || path == ":memory:" {
		return ":memory:?" + q.Encode(), true
	}
	if q.Get("_busy_timeout") == "" {
		q.Set("_busy_timeout", "5000")
	}
	return path + "?" + q.Encode(), false
}

func mysqlDSN(u *url.URL) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.User = u.User.Username()
	cfg.Passwd, _ = u.User.Password()
	port := u.Port()
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(u.Hostname(), port)
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true

	if q := u.Query(); len(q) > 0 {
		cfg.Params = make(map[string]string, len(q))
		for k := range q {
			cfg.Params[k] = q.Get(k)
		}
	}
	return cfg.FormatDSN()
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *time.Duration, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return *v
}
