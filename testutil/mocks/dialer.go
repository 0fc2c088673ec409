// =============================================================================
// 🔌 FlakyDialer - 故障注入的连接拨号器
// =============================================================================
// 包装真实拨号函数，按配置注入瞬时或永久故障，并记录拨号次数
//
// 使用方法:
//
//	dialer := mocks.NewFlakyDialer().FailTimes(2, mocks.ErrConnRefused)
//	conn, err := dialer.Wrap(db.Conn).Dial(ctx)
//
// =============================================================================
package mocks

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// 预置的驱动级错误
var (
	// ErrConnRefused 连接被拒绝（瞬时）
	ErrConnRefused error = &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}
	// ErrAuthFailed 认证失败（永久）
	ErrAuthFailed = errors.New("password authentication failed for user \"app\"")
	// ErrDatabaseOffline 数据库不可达（瞬时）
	ErrDatabaseOffline error = &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH),
	}
)

// FlakyDialer 是可注入故障的拨号器，满足 database.Dialer
type FlakyDialer struct {
	mu sync.Mutex

	next func(ctx context.Context) (*sql.Conn, error)

	// 前 failTimes 次拨号返回 failErr；failTimes < 0 表示始终失败
	failTimes int
	failErr   error

	// 非 nil 时拨号阻塞直到通道关闭或 ctx 结束
	block chan struct{}

	calls atomic.Int64
}

// NewFlakyDialer 创建不注入故障的拨号器
func NewFlakyDialer() *FlakyDialer {
	return &FlakyDialer{}
}

// Wrap 设置被包装的真实拨号函数
func (d *FlakyDialer) Wrap(next func(ctx context.Context) (*sql.Conn, error)) *FlakyDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next = next
	return d
}

// FailTimes 前 n 次拨号返回 err
func (d *FlakyDialer) FailTimes(n int, err error) *FlakyDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failTimes = n
	d.failErr = err
	return d
}

// AlwaysFail 每次拨号都返回 err
func (d *FlakyDialer) AlwaysFail(err error) *FlakyDialer {
	return d.FailTimes(-1, err)
}

// Recover 清除故障注入
func (d *FlakyDialer) Recover() *FlakyDialer {
	return d.FailTimes(0, nil)
}

// Block 使后续拨号阻塞，返回的函数解除阻塞
func (d *FlakyDialer) Block() (unblock func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.block = ch
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.block = nil
			d.mu.Unlock()
			close(ch)
		})
	}
}

// Calls 返回拨号次数
func (d *FlakyDialer) Calls() int {
	return int(d.calls.Load())
}

// Dial 实现 database.Dialer
func (d *FlakyDialer) Dial(ctx context.Context) (*sql.Conn, error) {
	d.calls.Add(1)

	d.mu.Lock()
	block := d.block
	var injected error
	switch {
	case d.failTimes < 0:
		injected = d.failErr
	case d.failTimes > 0:
		d.failTimes--
		injected = d.failErr
	}
	next := d.next
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if injected != nil {
		return nil, injected
	}
	if next == nil {
		return nil, errors.New("flaky dialer: no underlying dialer")
	}
	return next(ctx)
}
