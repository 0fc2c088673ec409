package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/datalayer/internal/ctxkeys"
	"github.com/BaSui01/datalayer/internal/pool"
	"github.com/BaSui01/datalayer/internal/telemetry"
	"github.com/BaSui01/datalayer/types"
)

// =============================================================================
// 🔗 会话
// =============================================================================

// Session 是绑定到一条已借出连接的工作单元。
// 会话归获取它的调用方独占，同一时刻只允许一个操作；
// Release 之后的任何操作都返回 SESSION_DONE。
type Session struct {
	id         string
	manager    *Manager
	entry      *pool.Entry[*sql.Conn]
	db         *gorm.DB
	driver     string
	timeout    time.Duration
	lifetime   context.Context
	acquiredAt time.Time
	logger     *zap.Logger

	mu       sync.Mutex
	busy     bool
	broken   bool
	released bool
}

// ID 返回会话标识（用于日志与链路关联）
func (s *Session) ID() string { return s.id }

// AcquiredAt 返回会话获取时间
func (s *Session) AcquiredAt() time.Time { return s.acquiredAt }

// Age 返回会话已持有连接的时长
func (s *Session) Age() time.Duration { return time.Since(s.acquiredAt) }

// DB 返回绑定到本会话连接的 GORM 句柄，不附加语句超时。
// 优先使用 Run/Transaction，它们负责超时、错误分类与连接状态。
func (s *Session) DB(ctx context.Context) *gorm.DB {
	return s.bind(ctx)
}

func (s *Session) bind(ctx context.Context) *gorm.DB {
	tx := s.db.Session(&gorm.Session{NewDB: true, Context: ctxkeys.WithSessionID(ctx, s.id)})
	tx.Statement.ConnPool = s.entry.Conn
	return tx
}

// Run 在会话连接上执行 fn，语句超时为 QueryTimeout。
// 超时返回 QUERY_TIMEOUT 且不重试；约束冲突返回 CONSTRAINT；
// 连接故障会使连接在释放时被丢弃。
func (s *Session) Run(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	ctx, span := telemetry.Tracer().Start(ctx, "datalayer."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", s.driver),
			attribute.String("datalayer.session_id", s.id),
		),
	)
	defer span.End()

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	start := time.Now()
	err := fn(s.bind(opCtx))
	s.manager.metrics.RecordDBQuery(s.driver, op, time.Since(start))
	if err == nil {
		return nil
	}

	err = s.classify(ctx, opCtx, op, err)
	s.manager.metrics.RecordDBError(s.driver, op, errorCode(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Transaction 在一个事务中执行 fn：返回 nil 时提交，否则整体回滚。
func (s *Session) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.RunTx(ctx, "transaction", fn)
}

// RunTx 与 Run 相同，但 fn 在一个事务中执行
func (s *Session) RunTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	return s.Run(ctx, op, func(db *gorm.DB) error {
		return db.Transaction(fn)
	})
}

// Exec 执行一条原生语句，返回受影响行数
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var rows int64
	err := s.Run(ctx, "exec", func(db *gorm.DB) error {
		res := db.Exec(query, args...)
		rows = res.RowsAffected
		return res.Error
	})
	return rows, err
}

// Ping 执行一次最小往返查询
func (s *Session) Ping(ctx context.Context) error {
	return s.Run(ctx, "ping", func(db *gorm.DB) error {
		var one int
		return db.Raw("SELECT 1").Scan(&one).Error
	})
}

// Release 归还连接。可重复调用；损坏的连接被丢弃而不是放回池中。
func (s *Session) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	broken := s.broken
	s.mu.Unlock()

	s.manager.release(s, broken)
}

// Released 报告会话是否已释放
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return types.NewError(types.ErrSessionDone, "session already released")
	}
	if s.busy {
		return types.NewError(types.ErrSessionBusy, "session is already running an operation")
	}
	s.busy = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) markBroken() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

// classify 区分语句超时、调用方取消、关闭强制取消与驱动错误
func (s *Session) classify(ctx, opCtx context.Context, op string, err error) error {
	if _, ok := types.AsError(err); ok && !types.IsErrorCode(err, types.ErrConnection) {
		return err
	}

	switch {
	case s.lifetime.Err() != nil:
		s.markBroken()
		return types.Errorf(types.ErrSessionDone, "%s cancelled by shutdown", op).WithCause(err)

	case ctx.Err() != nil:
		s.markBroken()
		return err

	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		s.markBroken()
		s.logger.Warn("query timed out",
			zap.String("operation", op),
			zap.Duration("timeout", s.timeout),
		)
		return types.Errorf(types.ErrQueryTimeout, "%s exceeded query timeout %s", op, s.timeout).WithCause(err)
	}

	classified := Classify(err)
	if isBrokenConn(classified) {
		s.markBroken()
	}
	return classified
}

func errorCode(err error) string {
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "UNKNOWN"
}
