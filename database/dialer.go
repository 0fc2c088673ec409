package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialer 建立一条物理连接
type Dialer interface {
	Dial(ctx context.Context) (*sql.Conn, error)
}

// DialerFunc 函数适配器
type DialerFunc func(ctx context.Context) (*sql.Conn, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context) (*sql.Conn, error) {
	return f(ctx)
}

// sqlDialer 从底层 sql.DB 取出专用连接并探活
type sqlDialer struct {
	db *sql.DB
}

func (d sqlDialer) Dial(ctx context.Context) (*sql.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping connection: %w", err)
	}
	return conn, nil
}
