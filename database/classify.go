package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/BaSui01/datalayer/types"
)

// =============================================================================
// 🧭 驱动错误分类
// =============================================================================

// MySQL 服务端错误号
const (
	mysqlTooManyConnections = 1040
	mysqlServerShutdown     = 1053
	mysqlDuplicateEntry     = 1062
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	mysqlRowIsReferenced    = 1451
	mysqlNoReferencedRow    = 1452
	mysqlColumnCannotBeNull = 1048
	mysqlCheckViolated      = 3819
)

// IsTransient 判断错误是否为可重试的瞬时故障：连接级故障或语句级冲突。
// 认证失败、URL 错误等永久故障返回 false。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if types.IsRetryable(err) {
		return true
	}
	return IsConnectionFault(err) || IsConflict(err)
}

// IsConnectionFault 判断错误是否为连接级故障：拒绝/重置、网络超时、
// 服务端关闭或连接数过多。发生后物理连接不可再用。
func IsConnectionFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgConnectionFault(pgErr.Code)
	}
	if pgconn.Timeout(err) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlTooManyConnections || myErr.Number == mysqlServerShutdown
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return false
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
		syscall.EPIPE, syscall.ETIMEDOUT, syscall.EHOSTUNREACH, syscall.ENETUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return containsAny(err, connectionMessages)
}

// IsConflict 判断错误是否为语句级并发冲突：死锁、序列化失败、锁等待超时、
// SQLite BUSY/LOCKED。连接本身仍然健康，重放整个事务即可。
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure、40P01 deadlock_detected、55P03 lock_not_available
		return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return containsAny(err, conflictMessages)
}

// pgConnectionFault: 08 连接异常、53300 连接数过多、57P0x 服务端关闭/启动中
func pgConnectionFault(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"):
		return true
	case code == "53300", code == "57P01", code == "57P02", code == "57P03":
		return true
	}
	return false
}

// 兜底的错误消息匹配
var (
	connectionMessages = []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"bad connection",
		"i/o timeout",
		"too many connections",
	}
	conflictMessages = []string{
		"deadlock",
		"serialization failure",
		"could not serialize access",
		"lock timeout",
		"lock wait timeout",
		"database is locked",
		"database table is locked",
	}
)

func containsAny(err error, needles []string) bool {
	errMsg := strings.ToLower(err.Error())
	for _, s := range needles {
		if strings.Contains(errMsg, s) {
			return true
		}
	}
	return false
}

// IsConstraintViolation 判断错误是否为唯一键/外键/非空/检查约束冲突
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23xxx integrity_constraint_violation
		return strings.HasPrefix(pgErr.Code, "23")
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlRowIsReferenced, mysqlNoReferencedRow,
			mysqlColumnCannotBeNull, mysqlCheckViolated:
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}

	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "constraint failed") ||
		strings.Contains(errMsg, "violates") && strings.Contains(errMsg, "constraint")
}

// Classify 将驱动错误映射为 types.Error：约束冲突 → CONSTRAINT，
// 并发冲突 → CONFLICT（Retryable），连接级故障 → CONNECTION（Retryable）。
// 已分类的错误与无法识别的错误原样返回。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if IsConstraintViolation(err) {
		return types.NewError(types.ErrConstraint, "constraint violation").WithCause(err)
	}
	if IsConflict(err) {
		return types.NewError(types.ErrConflict, "concurrent update conflict").
			WithRetryable(true).
			WithCause(err)
	}
	if IsConnectionFault(err) {
		return types.NewError(types.ErrConnection, "transient connection failure").
			WithRetryable(true).
			WithCause(err)
	}
	return err
}

// isBrokenConn 判断连接在该错误后是否应被丢弃，语句级冲突不丢弃连接
func isBrokenConn(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	return types.IsErrorCode(err, types.ErrConnection)
}
