package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig bounds the handle pool.
type PoolConfig struct {
	MaxTotal     int
	MaxIdle      int
	MinIdle      int
	MaxWait      time.Duration
	TestOnBorrow bool
}

// DefaultPoolConfig matches a small resolution service.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxTotal:     10,
		MaxIdle:      5,
		MinIdle:      1,
		MaxWait:      5 * time.Second,
		TestOnBorrow: true,
	}
}

// Handle is one borrowable store handle.
type Handle interface {
	Store
}

// HandleFactory creates a fresh store handle.
type HandleFactory func(ctx context.Context) (Handle, error)

// SharedHandleFactory adapts a single Store into a factory whose handles all
// delegate to it. Used when the underlying driver multiplexes connections
// itself and the pool's job is bounding concurrent access.
func SharedHandleFactory(s Store) HandleFactory {
	return func(ctx context.Context) (Handle, error) {
		return &sharedHandle{Store: s}, nil
	}
}

// sharedHandle wraps a shared Store; Close is a no-op because the Store
// outlives any one handle.
type sharedHandle struct{ Store }

func (h *sharedHandle) Close(ctx context.Context) error { return nil }

// PoolStats is a point-in-time snapshot.
type PoolStats struct {
	Total    int
	Active   int
	Idle     int
	Borrowed int64
	Released int64
	Created  int64
}

// Pool is a bounded pool of store handles. Borrow blocks up to MaxWait;
// exhaustion surfaces ErrPoolExhausted. Handles failing validation on
// borrow are closed and replaced.
type Pool struct {
	cfg     PoolConfig
	factory HandleFactory

	mu    sync.Mutex
	idle  []Handle
	total int
	slots chan struct{} // capacity MaxTotal; holding a slot = owning a handle

	borrowed atomic.Int64
	released atomic.Int64
	created  atomic.Int64

	closed bool
}

// NewPool builds the pool and pre-warms MinIdle handles.
func NewPool(ctx context.Context, cfg PoolConfig, factory HandleFactory) (*Pool, error) {
	if cfg.MaxTotal <= 0 {
		return nil, fmt.Errorf("graph: pool MaxTotal must be positive, got %d", cfg.MaxTotal)
	}
	if cfg.MaxIdle > cfg.MaxTotal {
		cfg.MaxIdle = cfg.MaxTotal
	}
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		slots:   make(chan struct{}, cfg.MaxTotal),
	}
	for range cfg.MaxTotal {
		p.slots <- struct{}{}
	}
	for range cfg.MinIdle {
		h, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("graph: pre-warm pool: %w", err)
		}
		p.created.Add(1)
		<-p.slots
		p.mu.Lock()
		p.idle = append(p.idle, h)
		p.total++
		p.mu.Unlock()
	}
	return p, nil
}

// Borrow acquires a handle, waiting up to MaxWait for capacity.
func (p *Pool) Borrow(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("graph: pool is closed")
	}
	// Fast path: reuse an idle handle (its slot is already held).
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return p.validated(ctx, h)
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.MaxWait)
	defer timer.Stop()
	select {
	case <-p.slots:
	case <-timer.C:
		return nil, fmt.Errorf("graph: borrow timed out after %s: %w", p.cfg.MaxWait, ErrPoolExhausted)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Slot acquired: another idle handle may have appeared while waiting.
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.slots <- struct{}{} // idle handles own their slot; give this one back
		return p.validated(ctx, h)
	}
	p.total++
	p.mu.Unlock()

	h, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.slots <- struct{}{}
		return nil, fmt.Errorf("graph: create handle: %w", err)
	}
	p.created.Add(1)
	p.borrowed.Add(1)
	return h, nil
}

// validated applies the borrow-time liveness probe, replacing dead handles.
func (p *Pool) validated(ctx context.Context, h Handle) (Handle, error) {
	if p.cfg.TestOnBorrow && !h.IsConnected(ctx) {
		_ = h.Close(ctx)
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		replacement, err := p.factory(ctx)
		if err != nil {
			p.slots <- struct{}{}
			return nil, fmt.Errorf("graph: replace failed handle: %w", err)
		}
		p.mu.Lock()
		p.total++
		p.mu.Unlock()
		p.created.Add(1)
		h = replacement
	}
	p.borrowed.Add(1)
	return h, nil
}

// Return gives a handle back to the pool. Beyond MaxIdle the handle is
// closed and its slot freed.
func (p *Pool) Return(ctx context.Context, h Handle) {
	p.released.Add(1)
	p.mu.Lock()
	if !p.closed && len(p.idle) < p.cfg.MaxIdle {
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		return
	}
	p.total--
	p.mu.Unlock()
	_ = h.Close(ctx)
	p.slots <- struct{}{}
}

// WithConn borrows a handle, runs fn, and returns the handle on every exit
// path.
func (p *Pool) WithConn(ctx context.Context, fn func(Store) error) error {
	h, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	defer p.Return(ctx, h)
	return fn(h)
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Total:    p.total,
		Active:   p.total - len(p.idle),
		Idle:     len(p.idle),
		Borrowed: p.borrowed.Load(),
		Released: p.released.Load(),
		Created:  p.created.Load(),
	}
}

// Close closes all idle handles and rejects further borrows.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.total -= len(idle)
	p.mu.Unlock()
	for _, h := range idle {
		_ = h.Close(ctx)
	}
}
