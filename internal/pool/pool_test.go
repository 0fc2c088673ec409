package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConns struct {
	next   atomic.Int64
	closed sync.Map
	live   atomic.Int64
	peak   atomic.Int64
	fail   atomic.Int64 // 剩余失败次数
}

func (f *fakeConns) dial(ctx context.Context) (int64, error) {
	if f.fail.Load() > 0 {
		f.fail.Add(-1)
		return 0, errors.New("connection refused")
	}
	id := f.next.Add(1)
	live := f.live.Add(1)
	for {
		peak := f.peak.Load()
		if live <= peak || f.peak.CompareAndSwap(peak, live) {
			break
		}
	}
	return id, nil
}

func (f *fakeConns) close(id int64) error {
	f.closed.Store(id, true)
	f.live.Add(-1)
	return nil
}

func (f *fakeConns) isClosed(id int64) bool {
	_, ok := f.closed.Load(id)
	return ok
}

func newTestPool(cfg Config) (*Pool[int64], *fakeConns) {
	f := &fakeConns{}
	return New[int64](cfg, f.dial, f.close), f
}

func TestPool_LazyAndReuse(t *testing.T) {
	p, f := newTestPool(Config{Size: 2, MaxOverflow: 1, Timeout: time.Second})

	assert.Equal(t, int64(0), f.next.Load(), "不应预先建立连接")

	e, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(e, false)

	e2, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, e.Conn, e2.Conn, "归还的连接应被复用")

	s := p.Stats()
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 1, s.CheckedOut)
	assert.Equal(t, 0, s.CheckedIn)
	assert.Equal(t, int64(1), s.Dials)
}

func TestPool_OverflowClosedOnReturn(t *testing.T) {
	p, f := newTestPool(Config{Size: 1, MaxOverflow: 2, Timeout: time.Second})
	ctx := context.Background()

	entries := make([]*Entry[int64], 3)
	for i := range entries {
		e, err := p.Get(ctx)
		require.NoError(t, err)
		entries[i] = e
	}

	s := p.Stats()
	assert.Equal(t, 3, s.CheckedOut)
	assert.Equal(t, 2, s.Overflow)

	for _, e := range entries {
		p.Put(e, false)
	}

	s = p.Stats()
	assert.Equal(t, 1, s.CheckedIn, "只保留 Size 个空闲连接")
	assert.Equal(t, 0, s.CheckedOut)
	assert.Equal(t, 0, s.Overflow)
	assert.Equal(t, int64(1), f.live.Load())
}

func TestPool_TimeoutWhenExhausted(t *testing.T) {
	p, _ := newTestPool(Config{Size: 1, MaxOverflow: 1, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Get(ctx)
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := p.Get(ctx)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrAcquireTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().Timeouts)
	assert.Equal(t, 2, p.Stats().CheckedOut)
}

func TestPool_WaiterReceivesReturnedConnection(t *testing.T) {
	p, _ := newTestPool(Config{Size: 1, Timeout: time.Second})
	ctx := context.Background()

	held, err := p.Get(ctx)
	require.NoError(t, err)

	got := make(chan *Entry[int64], 1)
	go func() {
		e, err := p.Get(ctx)
		if err == nil {
			got <- e
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Put(held, false)

	select {
	case e := <-got:
		require.NotNil(t, e)
		assert.Equal(t, held.Conn, e.Conn)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestPool_ContextCancelWhileWaiting(t *testing.T) {
	p, _ := newTestPool(Config{Size: 1, Timeout: 5 * time.Second})

	_, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	s := p.Stats()
	assert.Equal(t, 1, s.CheckedOut, "取消的获取不应占用连接")
	assert.Equal(t, 1, s.Open)
}

func TestPool_RecycleStaleConnection(t *testing.T) {
	p, f := newTestPool(Config{Size: 1, Timeout: time.Second, Recycle: time.Hour})

	now := time.Now()
	p.now = func() time.Time { return now }

	e, err := p.Get(context.Background())
	require.NoError(t, err)
	first := e.Conn
	p.Put(e, false)

	now = now.Add(2 * time.Hour)

	e, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, e.Conn, "过期连接应被替换")
	assert.True(t, f.isClosed(first))
	assert.Equal(t, int64(1), p.Stats().Recycled)
	assert.Equal(t, 1, p.Stats().Open)
}

func TestPool_RecycleDisabled(t *testing.T) {
	p, _ := newTestPool(Config{Size: 1, Timeout: time.Second})

	now := time.Now()
	p.now = func() time.Time { return now }

	e, err := p.Get(context.Background())
	require.NoError(t, err)
	first := e.Conn
	p.Put(e, false)

	now = now.Add(1000 * time.Hour)

	e, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, e.Conn)
}

func TestPool_DialFailureFreesSlot(t *testing.T) {
	p, f := newTestPool(Config{Size: 1, Timeout: time.Second})
	f.fail.Store(1)

	_, err := p.Get(context.Background())
	require.Error(t, err)

	s := p.Stats()
	assert.Equal(t, 0, s.Open)
	assert.Equal(t, 0, s.CheckedOut)

	e, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestPool_DiscardBrokenConnection(t *testing.T) {
	p, f := newTestPool(Config{Size: 2, Timeout: time.Second})

	e, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(e, true)

	assert.True(t, f.isClosed(e.Conn))
	s := p.Stats()
	assert.Equal(t, 0, s.Open)
	assert.Equal(t, 0, s.CheckedIn)
	assert.Equal(t, int64(1), s.Discarded)
}

func TestPool_DoublePutIgnored(t *testing.T) {
	p, _ := newTestPool(Config{Size: 2, Timeout: time.Second})

	e, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(e, false)
	p.Put(e, false)

	s := p.Stats()
	assert.Equal(t, 0, s.CheckedOut)
	assert.Equal(t, 1, s.CheckedIn)
}

func TestPool_Close(t *testing.T) {
	p, f := newTestPool(Config{Size: 2, Timeout: time.Second})
	ctx := context.Background()

	idle, err := p.Get(ctx)
	require.NoError(t, err)
	held, err := p.Get(ctx)
	require.NoError(t, err)
	p.Put(idle, false)

	require.NoError(t, p.Close())
	assert.True(t, f.isClosed(idle.Conn))
	assert.False(t, f.isClosed(held.Conn), "已借出的连接在归还时关闭")

	_, err = p.Get(ctx)
	require.ErrorIs(t, err, ErrPoolClosed)

	p.Put(held, false)
	assert.True(t, f.isClosed(held.Conn))
	assert.Equal(t, 0, p.Stats().Open)

	require.NoError(t, p.Close(), "重复关闭应安全")
}

func TestPool_CloseWakesWaiters(t *testing.T) {
	p, _ := newTestPool(Config{Size: 1, Timeout: 5 * time.Second})

	_, err := p.Get(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Get(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Close")
	}
}

func TestPool_ConcurrentBound(t *testing.T) {
	cfg := Config{Size: 3, MaxOverflow: 2, Timeout: 2 * time.Second}
	p, f := newTestPool(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				e, err := p.Get(context.Background())
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				time.Sleep(time.Microsecond)
				p.Put(e, j%7 == 0)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.peak.Load(), int64(cfg.Size+cfg.MaxOverflow))
	s := p.Stats()
	assert.Equal(t, 0, s.CheckedOut)
	assert.LessOrEqual(t, s.CheckedIn, cfg.Size)
	assert.Equal(t, int64(s.Open), f.live.Load())
}

func TestStats_Saturation(t *testing.T) {
	assert.InDelta(t, 0.5, Stats{Size: 2, MaxOverflow: 2, CheckedOut: 2}.Saturation(), 1e-9)
	assert.Zero(t, Stats{}.Saturation())
}
