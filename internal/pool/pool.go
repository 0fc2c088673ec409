// Package pool provides a bounded pool of physical connections with overflow
// and age-based recycling.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("pool acquisition timed out")
)

// DialFunc opens one physical connection.
type DialFunc[T any] func(ctx context.Context) (T, error)

// CloseFunc closes one physical connection.
type CloseFunc[T any] func(conn T) error

// Config configures the pool.
type Config struct {
	Size        int           `json:"size"`
	MaxOverflow int           `json:"max_overflow"`
	Timeout     time.Duration `json:"timeout"`
	// Recycle <= 0 disables age-based recycling.
	Recycle time.Duration `json:"recycle"`
}

// Entry is a checked-out connection. It must be handed back with Put exactly
// once; further Puts are ignored.
type Entry[T any] struct {
	Conn    T
	created time.Time
	out     bool
}

// CreatedAt returns when the physical connection was opened.
func (e *Entry[T]) CreatedAt() time.Time { return e.created }

// Pool hands out connections LIFO. At most Size idle connections are kept;
// up to MaxOverflow more may be open while checked out and are closed on
// return.
type Pool[T any] struct {
	cfg     Config
	dial    DialFunc[T]
	closeFn CloseFunc[T]
	now     func() time.Time

	mu         sync.Mutex
	idle       []*Entry[T]
	open       int
	checkedOut int
	closed     bool
	// closed and replaced on every state change to wake waiters
	waitCh chan struct{}

	// Metrics
	gets      atomic.Int64
	dials     atomic.Int64
	recycled  atomic.Int64
	discarded atomic.Int64
	timeouts  atomic.Int64
}

// New creates a pool. No connection is opened until the first Get.
func New[T any](cfg Config, dial DialFunc[T], closeFn CloseFunc[T]) *Pool[T] {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.MaxOverflow < 0 {
		cfg.MaxOverflow = 0
	}
	if closeFn == nil {
		closeFn = func(T) error { return nil }
	}
	return &Pool[T]{
		cfg:     cfg,
		dial:    dial,
		closeFn: closeFn,
		now:     time.Now,
		idle:    make([]*Entry[T], 0, cfg.Size),
		waitCh:  make(chan struct{}),
	}
}

// Get checks out a connection. An idle connection older than Recycle is
// closed and replaced by a fresh dial in the same slot. When all Size+MaxOverflow
// slots are checked out, Get blocks until one is returned, the pool timeout
// elapses (ErrAcquireTimeout) or ctx is done.
func (p *Pool[T]) Get(ctx context.Context) (*Entry[T], error) {
	p.gets.Add(1)

	var timeoutC <-chan time.Time
	if p.cfg.Timeout > 0 {
		timer := time.NewTimer(p.cfg.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			e := p.idle[n-1]
			p.idle[n-1] = nil
			p.idle = p.idle[:n-1]
			p.checkedOut++
			stale := p.cfg.Recycle > 0 && p.now().Sub(e.created) >= p.cfg.Recycle
			if !stale {
				e.out = true
				p.mu.Unlock()
				return e, nil
			}
			p.mu.Unlock()

			p.recycled.Add(1)
			_ = p.closeFn(e.Conn)
			return p.dialSlot(ctx)
		}

		if p.open < p.cfg.Size+p.cfg.MaxOverflow {
			p.open++
			p.checkedOut++
			p.mu.Unlock()
			return p.dialSlot(ctx)
		}

		wait := p.waitCh
		p.mu.Unlock()

		select {
		case <-wait:
		case <-timeoutC:
			p.timeouts.Add(1)
			return nil, ErrAcquireTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dialSlot fills a slot already reserved by the caller; the slot is freed
// again if the dial fails.
func (p *Pool[T]) dialSlot(ctx context.Context) (*Entry[T], error) {
	p.dials.Add(1)
	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.checkedOut--
		p.broadcastLocked()
		p.mu.Unlock()
		return nil, err
	}
	return &Entry[T]{Conn: conn, created: p.now(), out: true}, nil
}

// Put returns a checked-out connection. Broken connections (discard) and
// connections beyond the idle capacity are closed instead of kept.
func (p *Pool[T]) Put(e *Entry[T], discard bool) {
	if e == nil {
		return
	}

	p.mu.Lock()
	if !e.out {
		p.mu.Unlock()
		return
	}
	e.out = false
	p.checkedOut--

	if p.closed || discard || len(p.idle) >= p.cfg.Size {
		p.open--
		p.broadcastLocked()
		p.mu.Unlock()
		if discard {
			p.discarded.Add(1)
		}
		_ = p.closeFn(e.Conn)
		return
	}

	p.idle = append(p.idle, e)
	p.broadcastLocked()
	p.mu.Unlock()
}

// Close closes every idle connection and rejects further Gets. Connections
// still checked out are closed when they are Put back.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.broadcastLocked()
	p.mu.Unlock()

	var errs []error
	for _, e := range idle {
		if err := p.closeFn(e.Conn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool[T]) broadcastLocked() {
	close(p.waitCh)
	p.waitCh = make(chan struct{})
}

// Stats returns a consistent snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Size:        p.cfg.Size,
		MaxOverflow: p.cfg.MaxOverflow,
		Open:        p.open,
		CheckedIn:   len(p.idle),
		CheckedOut:  p.checkedOut,
		Closed:      p.closed,
	}
	p.mu.Unlock()

	if s.Open > s.Size {
		s.Overflow = s.Open - s.Size
	}
	s.Gets = p.gets.Load()
	s.Dials = p.dials.Load()
	s.Recycled = p.recycled.Load()
	s.Discarded = p.discarded.Load()
	s.Timeouts = p.timeouts.Load()
	return s
}

// Stats contains pool statistics.
type Stats struct {
	Size        int  `json:"size"`
	MaxOverflow int  `json:"max_overflow"`
	Open        int  `json:"open"`
	CheckedIn   int  `json:"checked_in"`
	CheckedOut  int  `json:"checked_out"`
	Overflow    int  `json:"overflow"`
	Closed      bool `json:"closed"`

	Gets      int64 `json:"gets"`
	Dials     int64 `json:"dials"`
	Recycled  int64 `json:"recycled"`
	Discarded int64 `json:"discarded"`
	Timeouts  int64 `json:"timeouts"`
}

// Saturation returns the checked-out share of all permitted connections.
func (s Stats) Saturation() float64 {
	total := s.Size + s.MaxOverflow
	if total == 0 {
		return 0
	}
	return float64(s.CheckedOut) / float64(total)
}
