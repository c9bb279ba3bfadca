package graph

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

// fakeHandle is a controllable Handle for pool tests.
type fakeHandle struct {
	alive  atomic.Bool
	closed atomic.Bool
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{}
	h.alive.Store(true)
	return h
}

func (h *fakeHandle) Execute(ctx context.Context, q string, p map[string]any) error { return nil }
func (h *fakeHandle) Query(ctx context.Context, q string, p map[string]any) ([]map[string]any, error) {
	return nil, nil
}
func (h *fakeHandle) CreateIndexes(ctx context.Context) error { return nil }
func (h *fakeHandle) IsConnected(ctx context.Context) bool    { return h.alive.Load() }
func (h *fakeHandle) Close(ctx context.Context) error         { h.closed.Store(true); return nil }

func fakeFactory(created *[]*fakeHandle, mu *sync.Mutex) HandleFactory {
	return func(ctx context.Context) (Handle, error) {
		h := newFakeHandle()
		mu.Lock()
		*created = append(*created, h)
		mu.Unlock()
		return h, nil
	}
}

func newTestPool(t *testing.T, cfg PoolConfig) (*Pool, *[]*fakeHandle) {
	t.Helper()
	var created []*fakeHandle
	var mu sync.Mutex
	p, err := NewPool(context.Background(), cfg, fakeFactory(&created, &mu))
	require.NoError(t, err)
	return p, &created
}

func TestPool_BorrowAndReturn(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, PoolConfig{MaxTotal: 2, MaxIdle: 2, MaxWait: time.Second})

	h1, err := p.Borrow(ctx)
	require.NoError(t, err)
	h2, err := p.Borrow(ctx)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 0, stats.Idle)

	p.Return(ctx, h1)
	p.Return(ctx, h2)

	stats = p.Stats()
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(2), stats.Borrowed)
	assert.Equal(t, int64(2), stats.Released)
}

func TestPool_ReusesIdleHandles(t *testing.T) {
	ctx := context.Background()
	p, created := newTestPool(t, PoolConfig{MaxTotal: 2, MaxIdle: 2, MaxWait: time.Second})

	h, err := p.Borrow(ctx)
	require.NoError(t, err)
	p.Return(ctx, h)

	h2, err := p.Borrow(ctx)
	require.NoError(t, err)
	assert.Same(t, h, h2)
	assert.Len(t, *created, 1, "no extra handle created for reuse")
}

func TestPool_ExhaustionTimesOut(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, PoolConfig{MaxTotal: 1, MaxIdle: 1, MaxWait: 50 * time.Millisecond})

	h, err := p.Borrow(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Borrow(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPoolExhausted))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	p.Return(ctx, h)
	h2, err := p.Borrow(ctx)
	require.NoError(t, err)
	p.Return(ctx, h2)
}

func TestPool_BlockedBorrowerGetsReturnedHandle(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, PoolConfig{MaxTotal: 1, MaxIdle: 1, MaxWait: 2 * time.Second})

	h, err := p.Borrow(ctx)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		h2, err := p.Borrow(ctx)
		if err == nil {
			p.Return(ctx, h2)
		}
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Return(ctx, h)

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked borrower never woke up")
	}
}

func TestPool_TestOnBorrowReplacesDeadHandle(t *testing.T) {
	ctx := context.Background()
	p, created := newTestPool(t, PoolConfig{MaxTotal: 2, MaxIdle: 2, MaxWait: time.Second, TestOnBorrow: true})

	h, err := p.Borrow(ctx)
	require.NoError(t, err)
	p.Return(ctx, h)

	// Kill the idle handle; the next borrow must replace it.
	(*created)[0].alive.Store(false)

	h2, err := p.Borrow(ctx)
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.True(t, (*created)[0].closed.Load(), "dead handle must be closed")
	assert.Len(t, *created, 2)
	p.Return(ctx, h2)
}

func TestPool_MaxIdleOverflowCloses(t *testing.T) {
	ctx := context.Background()
	p, created := newTestPool(t, PoolConfig{MaxTotal: 3, MaxIdle: 1, MaxWait: time.Second})

	h1, _ := p.Borrow(ctx)
	h2, _ := p.Borrow(ctx)
	p.Return(ctx, h1)
	p.Return(ctx, h2)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, stats.Total)

	closedCount := 0
	for _, h := range *created {
		if h.closed.Load() {
			closedCount++
		}
	}
	assert.Equal(t, 1, closedCount)
}

func TestPool_MinIdlePreWarms(t *testing.T) {
	p, created := newTestPool(t, PoolConfig{MaxTotal: 4, MaxIdle: 4, MinIdle: 2, MaxWait: time.Second})

	stats := p.Stats()
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, 2, stats.Total)
	assert.Len(t, *created, 2)
}

func TestPool_WithConnReturnsOnError(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, PoolConfig{MaxTotal: 1, MaxIdle: 1, MaxWait: 100 * time.Millisecond})

	sentinel := errors.New("boom")
	err := p.WithConn(ctx, func(s Store) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	// Handle must be back: a second WithConn succeeds without exhaustion.
	err = p.WithConn(ctx, func(s Store) error { return nil })
	assert.NoError(t, err)
}

func TestPool_CloseRejectsBorrow(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, PoolConfig{MaxTotal: 1, MaxIdle: 1, MaxWait: 50 * time.Millisecond})

	p.Close(ctx)
	_, err := p.Borrow(ctx)
	assert.Error(t, err)
}
