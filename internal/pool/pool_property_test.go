package pool

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// Property: under any interleaving of checkouts, returns and discards the
// pool counters stay consistent and never exceed Size+MaxOverflow.
func TestProperty_PoolCountersStayBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := Config{
			Size:        rapid.IntRange(1, 4).Draw(rt, "size"),
			MaxOverflow: rapid.IntRange(0, 3).Draw(rt, "overflow"),
			Timeout:     time.Millisecond,
		}
		p, f := newTestPool(cfg)
		var held []*Entry[int64]

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				e, err := p.Get(context.Background())
				if len(held) >= cfg.Size+cfg.MaxOverflow {
					if err != ErrAcquireTimeout {
						rt.Fatalf("expected timeout with %d held, got %v", len(held), err)
					}
					continue
				}
				if err != nil {
					rt.Fatalf("unexpected get error: %v", err)
				}
				held = append(held, e)
			case 1, 2:
				if len(held) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(held)-1).Draw(rt, "idx")
				p.Put(held[idx], rapid.Bool().Draw(rt, "discard"))
				held = append(held[:idx], held[idx+1:]...)
			}

			s := p.Stats()
			if s.CheckedOut != len(held) {
				rt.Fatalf("checked out %d, held %d", s.CheckedOut, len(held))
			}
			if s.Open != s.CheckedOut+s.CheckedIn {
				rt.Fatalf("open %d != out %d + in %d", s.Open, s.CheckedOut, s.CheckedIn)
			}
			if s.CheckedIn > cfg.Size {
				rt.Fatalf("idle %d exceeds size %d", s.CheckedIn, cfg.Size)
			}
			if s.Open > cfg.Size+cfg.MaxOverflow {
				rt.Fatalf("open %d exceeds bound", s.Open)
			}
			if int64(s.Open) != f.live.Load() {
				rt.Fatalf("open %d but %d physical connections live", s.Open, f.live.Load())
			}
		}
	})
}
