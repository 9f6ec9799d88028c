package inference

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/greedo/internal/metrics"
)

// Scorer is the opaque next-token model. Given ids and mask of length
// capacity it returns one logits row per position; only the row at the last
// real position is read. Implementations may assume calls never overlap on
// one session.
type Scorer interface {
	Score(ctx context.Context, ids, mask []int) ([][]float32, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, ids, mask []int) ([][]float32, error)

func (f ScorerFunc) Score(ctx context.Context, ids, mask []int) ([][]float32, error) {
	return f(ctx, ids, mask)
}

// Provider is a loaded scorer that knows its own limits.
type Provider interface {
	Scorer
	MaxSequenceLength() int
	VocabSize() int
	Close() error
}

// OpenProvider runs open and waits at most timeout for it. On expiry the
// open keeps running in the background and its provider, if any, is closed
// when it eventually arrives.
func OpenProvider(ctx context.Context, timeout time.Duration, open func(context.Context) (Provider, error)) (Provider, error) {
	type opened struct {
		p   Provider
		err error
	}
	done := make(chan opened, 1)
	go func() {
		p, err := safeOpen(ctx, open)
		done <- opened{p, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.p, r.err
	case <-timer.C:
		go func() {
			if r := <-done; r.p != nil {
				_ = r.p.Close()
			}
		}()
		return nil, fmt.Errorf("%w after %s", ErrProviderTimeout, timeout)
	case <-ctx.Done():
		go func() {
			if r := <-done; r.p != nil {
				_ = r.p.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func safeOpen(ctx context.Context, open func(context.Context) (Provider, error)) (p Provider, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in provider open: %v", rec)
		}
	}()
	return open(ctx)
}

func safeScore(ctx context.Context, s Scorer, ids, mask []int) (out [][]float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Score: %v", rec)
		}
	}()
	return s.Score(ctx, ids, mask)
}

// scorerGate allows one scorer call in flight. The permit is released by the
// goroutine running the call, only once the call returns, so a call the
// caller stopped waiting for still blocks the next one.
type scorerGate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newScorerGate(timeout time.Duration) *scorerGate {
	return &scorerGate{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// call acquires the gate, runs prepare then the scorer, and waits at most the
// gate timeout in total. prepare runs only while the permit is held, so the
// buffers it fills are never read by an earlier abandoned call.
func (g *scorerGate) call(ctx context.Context, s Scorer, prepare func() (ids, mask []int)) ([][]float32, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrScorerBusy
	}

	ids, mask := prepare()

	type scored struct {
		out [][]float32
		err error
	}
	done := make(chan scored, 1)
	start := time.Now()
	go func() {
		defer g.sem.Release(1)
		out, err := safeScore(ctx, s, ids, mask)
		metrics.RecordScorerCall(time.Since(start))
		done <- scored{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrScorerTimeout
	}
}

// idle reports whether no scorer call currently holds the gate.
func (g *scorerGate) idle() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.sem.Release(1)
	return true
}
