package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BaSui01/datalayer/config"
	"github.com/BaSui01/datalayer/internal/ctxkeys"
	"github.com/BaSui01/datalayer/internal/metrics"
	"github.com/BaSui01/datalayer/internal/pool"
	"github.com/BaSui01/datalayer/internal/telemetry"
	"github.com/BaSui01/datalayer/retry"
	"github.com/BaSui01/datalayer/types"
)

// =============================================================================
// 🗄️ 连接管理器
// =============================================================================

// State 管理器生命周期状态
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Manager 持有进程级连接池，提供带重试的会话获取与启动/关闭生命周期。
// 只有 Ready 状态允许获取会话；Closed 之后可以重新 Initialize。
type Manager struct {
	logger     *zap.Logger
	metrics    *metrics.Collector
	wrapDialer func(Dialer) Dialer
	externalDB *sql.DB

	mu       sync.RWMutex
	state    State
	settings config.Settings
	db       *gorm.DB
	sqlDB    *sql.DB
	pool     *pool.Pool[*sql.Conn]
	dialer   Dialer

	// 进行中的会话与获取；Draining 期间等待其归零
	sessions sync.WaitGroup
	activeMu sync.Mutex
	active   map[*Session]struct{}

	// 取消即强制结束所有会话操作
	lifetime       context.Context
	cancelLifetime context.CancelFunc

	stopHealth chan struct{}
	healthDone chan struct{}
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics 设置 Prometheus 指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithDialer 包装默认的连接拨号器（用于故障注入或连接级埋点）
func WithDialer(wrap func(Dialer) Dialer) Option {
	return func(m *Manager) { m.wrapDialer = wrap }
}

// WithSQLDB 使用调用方提供的 sql.DB，而不是按 DSN 打开。
// 管理器关闭时会关闭它。
func WithSQLDB(db *sql.DB) Option {
	return func(m *Manager) { m.externalDB = db }
}

// NewManager 创建未初始化的管理器
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: zap.NewNop(),
		active: make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "db_manager"))
	return m
}

// =============================================================================
// 🚀 生命周期
// =============================================================================

// Initialize 按校验后的 Settings 构建连接池。池是惰性的：除可选的预热探测外
// 不会建立任何连接。未经 Shutdown 重复调用返回 ALREADY_INITIALIZED。
func (m *Manager) Initialize(ctx context.Context, s config.Settings) error {
	m.mu.Lock()
	switch m.state {
	case StateInitializing, StateReady, StateDraining:
		state := m.state
		m.mu.Unlock()
		return types.Errorf(types.ErrAlreadyInitialized, "manager is %s", state)
	}
	m.state = StateInitializing
	m.mu.Unlock()

	if err := m.open(s); err != nil {
		m.mu.Lock()
		m.state = StateUninitialized
		m.mu.Unlock()
		return err
	}

	m.logger.Info("database manager initialized",
		zap.String("driver", string(s.Driver)),
		zap.String("url", s.RedactedURL()),
		zap.String("environment", string(s.Environment)),
		zap.Int("pool_size", s.PoolSize),
		zap.Int("max_overflow", s.MaxOverflow),
		zap.Duration("pool_timeout", s.PoolTimeout),
		zap.Duration("pool_recycle", s.PoolRecycle),
		zap.Int("connection_retries", s.ConnectionRetries),
	)

	if s.WarmUp {
		if err := m.WarmUp(ctx); err != nil {
			_ = m.Shutdown(context.Background())
			m.mu.Lock()
			m.state = StateUninitialized
			m.mu.Unlock()
			return err
		}
	}

	if s.HealthCheckInterval > 0 {
		m.mu.Lock()
		m.stopHealth = make(chan struct{})
		m.healthDone = make(chan struct{})
		go m.healthCheckLoop(s.HealthCheckInterval, m.stopHealth, m.healthDone)
		m.mu.Unlock()
	}

	return nil
}

// open 打开 sql.DB 与 GORM 句柄并创建连接池，成功后进入 Ready
func (m *Manager) open(s config.Settings) error {
	if s.Driver == "" || s.DSN == "" {
		return types.NewError(types.ErrConfiguration, "settings must be produced by config.Validate")
	}

	sqlDB := m.externalDB
	if sqlDB == nil {
		var err error
		sqlDB, err = sql.Open(driverName(s.Driver), s.DSN)
		if err != nil {
			return types.NewError(types.ErrConfiguration, "failed to open database handle").WithCause(err)
		}
	}

	// 物理连接数由 pool 控制；内存库保留唯一的驱动连接，否则数据随连接关闭而丢失。
	// 外部传入的 sql.DB 保留调用方的空闲连接设置。
	sqlDB.SetMaxOpenConns(s.MaxConnections())
	if m.externalDB == nil {
		if s.InMemory {
			sqlDB.SetMaxIdleConns(1)
		} else {
			sqlDB.SetMaxIdleConns(0)
		}
		sqlDB.SetConnMaxLifetime(0)
	}

	db, err := gorm.Open(dialector(s, sqlDB), &gorm.Config{
		Logger:               NewGormLogger(m.logger, s.Echo, s.QueryTimeout/2),
		DisableAutomaticPing: true,
		TranslateError:       true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return types.NewError(types.ErrConfiguration, "failed to initialize gorm").WithCause(err)
	}

	var dialer Dialer = sqlDialer{db: sqlDB}
	if m.wrapDialer != nil {
		dialer = m.wrapDialer(dialer)
	}

	lifetime, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = s
	m.db = db
	m.sqlDB = sqlDB
	m.dialer = dialer
	m.lifetime = lifetime
	m.cancelLifetime = cancel
	m.pool = pool.New(pool.Config{
		Size:        s.PoolSize,
		MaxOverflow: s.MaxOverflow,
		Timeout:     s.PoolTimeout,
		Recycle:     s.PoolRecycle,
	}, m.dial, func(c *sql.Conn) error { return c.Close() })
	m.state = StateReady
	m.recordPoolLocked()
	return nil
}

func driverName(kind config.DriverKind) string {
	switch kind {
	case config.DriverPostgres:
		return "pgx"
	case config.DriverMySQL:
		return "mysql"
	default:
		return sqlite.DriverName
	}
}

func dialector(s config.Settings, sqlDB *sql.DB) gorm.Dialector {
	switch s.Driver {
	case config.DriverPostgres:
		return postgres.New(postgres.Config{Conn: sqlDB})
	case config.DriverMySQL:
		return mysql.New(mysql.Config{
			Conn:                      sqlDB,
			SkipInitializeWithVersion: true,
		})
	default:
		return sqlite.New(sqlite.Config{Conn: sqlDB, DriverName: sqlite.DriverName})
	}
}

// dial 建立一条连接：瞬时故障按退避重试 ConnectionRetries 次，永久故障立即返回
func (m *Manager) dial(ctx context.Context) (*sql.Conn, error) {
	m.mu.RLock()
	s := m.settings
	dialer := m.dialer
	m.mu.RUnlock()

	driver := string(s.Driver)
	policy := retry.Policy{
		MaxRetries:  s.ConnectionRetries,
		BaseDelay:   s.RetryBaseDelay,
		MaxDelay:    s.RetryMaxDelay,
		IsTransient: IsTransient,
		Logger:      m.logger,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			m.metrics.RecordRetry(driver)
			m.logger.Warn("connection attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.ConnectionRetries),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	return retry.DoValue(ctx, policy, func() (*sql.Conn, error) {
		return dialer.Dial(ctx)
	})
}

// WarmUp 获取一个会话并执行一次往返查询
func (m *Manager) WarmUp(ctx context.Context) error {
	return m.WithSession(ctx, func(s *Session) error {
		return s.Ping(ctx)
	})
}

// Shutdown 进入 Draining：拒绝新会话，在宽限期内等待进行中的会话结束，
// 超时后取消剩余操作并强制关闭连接，最终进入 Closed。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDraining
	s := m.settings
	p := m.pool
	sqlDB := m.sqlDB
	cancelLifetime := m.cancelLifetime
	stopHealth, healthDone := m.stopHealth, m.healthDone
	m.stopHealth, m.healthDone = nil, nil
	m.mu.Unlock()

	m.logger.Info("database manager draining",
		zap.Int("active_sessions", m.activeCount()),
		zap.Duration("grace_period", s.ShutdownGracePeriod),
	)

	if stopHealth != nil {
		close(stopHealth)
		<-healthDone
	}

	// 唤醒等待中的获取；已借出的连接归还时关闭
	_ = p.Close()

	drained := make(chan struct{})
	go func() {
		m.sessions.Wait()
		close(drained)
	}()

	grace := time.NewTimer(s.ShutdownGracePeriod)
	defer grace.Stop()

	forced := false
	select {
	case <-drained:
	case <-grace.C:
		forced = true
	case <-ctx.Done():
		forced = true
	}

	if forced {
		// 先取消再快照：此后注册的会话会在 AcquireSession 中自行释放
		cancelLifetime()
		remaining := m.snapshotActive()
		m.logger.Warn("grace period elapsed, cancelling remaining sessions",
			zap.Int("sessions", len(remaining)),
		)
		for _, sess := range remaining {
			sess.markBroken()
			sess.Release()
		}
		<-drained
	}
	cancelLifetime()

	var errs []error
	if err := p.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := sqlDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}

	m.mu.Lock()
	m.state = StateClosed
	m.recordPoolLocked()
	m.mu.Unlock()

	m.logger.Info("database manager closed", zap.Bool("forced", forced))
	return errors.Join(errs...)
}

// =============================================================================
// 🎯 会话获取
// =============================================================================

// AcquireSession 获取绑定到池化连接的会话。调用方必须 Release。
// 池与溢出连接全部借出时最多阻塞 PoolTimeout，然后返回 POOL_TIMEOUT（不重试）；
// 瞬时拨号故障按退避重试，耗尽后返回 RETRY_EXHAUSTED。
func (m *Manager) AcquireSession(ctx context.Context) (*Session, error) {
	start := time.Now()

	ctx, span := telemetry.Tracer().Start(ctx, "datalayer.AcquireSession",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	m.mu.RLock()
	if m.state != StateReady {
		state := m.state
		m.mu.RUnlock()
		err := types.Errorf(types.ErrNotInitialized, "manager is %s", state)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	m.sessions.Add(1)
	s := m.settings
	p := m.pool
	db := m.db
	lifetime := m.lifetime
	m.mu.RUnlock()

	driver := string(s.Driver)
	span.SetAttributes(attribute.String("db.system", driver))

	getCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(lifetime, cancel)
	defer stop()

	entry, err := p.Get(getCtx)
	if err == nil && lifetime.Err() != nil {
		p.Put(entry, true)
		err = pool.ErrPoolClosed
	}
	if err != nil {
		m.sessions.Done()
		err = m.acquireError(s, err)
		m.metrics.RecordAcquire(driver, errorCode(err), time.Since(start))
		m.recordPool()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sess := &Session{
		id:         uuid.NewString(),
		manager:    m,
		entry:      entry,
		db:         db,
		driver:     driver,
		timeout:    s.QueryTimeout,
		lifetime:   lifetime,
		acquiredAt: time.Now(),
	}
	sess.logger = m.logger.With(zap.String("session_id", sess.id))
	if rid, ok := ctxkeys.RequestID(ctx); ok {
		sess.logger = sess.logger.With(zap.String("request_id", rid))
	}

	m.activeMu.Lock()
	m.active[sess] = struct{}{}
	m.activeMu.Unlock()

	// 注册期间关闭已强制取消，快照可能漏掉本会话
	if lifetime.Err() != nil {
		sess.markBroken()
		sess.Release()
		err := types.NewError(types.ErrNotInitialized, "manager is shutting down")
		m.metrics.RecordAcquire(driver, errorCode(err), time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("datalayer.session_id", sess.id))
	m.metrics.RecordAcquire(driver, "ok", time.Since(start))
	m.recordPool()
	sess.logger.Debug("session acquired", zap.Duration("wait", time.Since(start)))

	return sess, nil
}

func (m *Manager) acquireError(s config.Settings, err error) error {
	switch {
	case errors.Is(err, pool.ErrAcquireTimeout):
		return types.Errorf(types.ErrPoolTimeout,
			"no connection available within %s (pool_size=%d, max_overflow=%d)",
			s.PoolTimeout, s.PoolSize, s.MaxOverflow)
	case errors.Is(err, pool.ErrPoolClosed):
		return types.NewError(types.ErrNotInitialized, "manager is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	// 永久故障不重试，原样包装返回
	m.logger.Error("connection failed permanently", zap.Error(err))
	return types.NewError(types.ErrConnection, "failed to connect").WithCause(err)
}

// WithSession 获取会话并执行 fn，任何退出路径（包括 panic）都会释放会话
func (m *Manager) WithSession(ctx context.Context, fn func(*Session) error) error {
	sess, err := m.AcquireSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Release()
	return fn(sess)
}

// release 由 Session.Release 调用
func (m *Manager) release(sess *Session, broken bool) {
	m.activeMu.Lock()
	delete(m.active, sess)
	m.activeMu.Unlock()

	m.mu.RLock()
	p := m.pool
	m.mu.RUnlock()

	p.Put(sess.entry, broken)
	m.sessions.Done()
	m.recordPool()

	sess.logger.Debug("session released",
		zap.Duration("held", time.Since(sess.acquiredAt)),
		zap.Bool("discarded", broken),
	)
}

func (m *Manager) activeCount() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return len(m.active)
}

func (m *Manager) snapshotActive() []*Session {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	out := make([]*Session, 0, len(m.active))
	for s := range m.active {
		out = append(out, s)
	}
	return out
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// PoolSnapshot 连接池快照
type PoolSnapshot struct {
	Driver         string  `json:"driver"`
	State          string  `json:"state"`
	PoolSize       int     `json:"pool_size"`
	MaxOverflow    int     `json:"max_overflow"`
	Open           int     `json:"open"`
	CheckedIn      int     `json:"checked_in"`
	CheckedOut     int     `json:"checked_out"`
	Overflow       int     `json:"overflow"`
	ActiveSessions int     `json:"active_sessions"`
	Saturation     float64 `json:"saturation"`
	Recycled       int64   `json:"recycled"`
	Discarded      int64   `json:"discarded"`
	Timeouts       int64   `json:"timeouts"`
}

// PoolStats 返回连接池快照；未初始化时计数均为 0
func (m *Manager) PoolStats() PoolSnapshot {
	m.mu.RLock()
	state := m.state
	s := m.settings
	p := m.pool
	m.mu.RUnlock()

	snap := PoolSnapshot{
		Driver:      string(s.Driver),
		State:       state.String(),
		PoolSize:    s.PoolSize,
		MaxOverflow: s.MaxOverflow,
	}
	if p == nil {
		return snap
	}

	ps := p.Stats()
	snap.Open = ps.Open
	snap.CheckedIn = ps.CheckedIn
	snap.CheckedOut = ps.CheckedOut
	snap.Overflow = ps.Overflow
	snap.Saturation = ps.Saturation()
	snap.Recycled = ps.Recycled
	snap.Discarded = ps.Discarded
	snap.Timeouts = ps.Timeouts
	snap.ActiveSessions = m.activeCount()
	return snap
}

// State 返回当前生命周期状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Settings 返回当前生效的配置
func (m *Manager) Settings() config.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// recordPool 刷新连接池指标
func (m *Manager) recordPool() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.recordPoolLocked()
}

func (m *Manager) recordPoolLocked() {
	if m.metrics == nil || m.pool == nil {
		return
	}
	ps := m.pool.Stats()
	m.metrics.RecordPool(string(m.settings.Driver), ps.Size, ps.CheckedIn, ps.CheckedOut, ps.Overflow)
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 后台定时探活并输出连接池状态
func (m *Manager) healthCheckLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		start := time.Now()
		err := m.WithSession(ctx, func(s *Session) error { return s.Ping(ctx) })
		cancel()

		stats := m.PoolStats()
		if err != nil {
			m.logger.Error("database health check failed", zap.Error(err))
			continue
		}
		m.logger.Debug("database health check passed",
			zap.Duration("latency", time.Since(start)),
			zap.Int("open_connections", stats.Open),
			zap.Int("checked_out", stats.CheckedOut),
			zap.Int("checked_in", stats.CheckedIn),
		)
	}
}
