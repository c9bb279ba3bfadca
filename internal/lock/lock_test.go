package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcess_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewInProcess()

	require.NoError(t, l.TryLock(ctx, "COMPANY:acme", time.Second))

	err := l.TryLock(ctx, "COMPANY:acme", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	// A different key is independent.
	require.NoError(t, l.TryLock(ctx, "COMPANY:zenith", 50*time.Millisecond))

	require.NoError(t, l.Unlock(ctx, "COMPANY:acme"))
	require.NoError(t, l.TryLock(ctx, "COMPANY:acme", 50*time.Millisecond))
}

func TestInProcess_UnlockNotHeldIsNoop(t *testing.T) {
	ctx := context.Background()
	l := NewInProcess()

	assert.NoError(t, l.Unlock(ctx, "never-locked"))

	require.NoError(t, l.TryLock(ctx, "k", time.Second))
	require.NoError(t, l.Unlock(ctx, "k"))
	assert.NoError(t, l.Unlock(ctx, "k"), "double unlock is a no-op")

	// The key still works after the extra unlock.
	require.NoError(t, l.TryLock(ctx, "k", time.Second))
	err := l.TryLock(ctx, "k", 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout), "extra unlock must not have queued a free token")
}

func TestInProcess_WaiterWakesOnUnlock(t *testing.T) {
	ctx := context.Background()
	l := NewInProcess()

	require.NoError(t, l.TryLock(ctx, "k", time.Second))

	acquired := make(chan error, 1)
	go func() {
		acquired <- l.TryLock(ctx, "k", 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Unlock(ctx, "k"))

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestInProcess_ConcurrentContention(t *testing.T) {
	ctx := context.Background()
	l := NewInProcess()

	var wg sync.WaitGroup
	var held, max int
	var mu sync.Mutex
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.TryLock(ctx, "hot", 5*time.Second))
			mu.Lock()
			held++
			if held > max {
				max = held
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			held--
			mu.Unlock()
			require.NoError(t, l.Unlock(ctx, "hot"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max, "at most one holder at any instant")
}

// scriptedStore fakes the graph store for GraphLock tests: it keeps lock
// nodes in a map and applies the conditional-claim semantics.
type scriptedStore struct {
	mu    sync.Mutex
	locks map[string]lockRow
}

type lockRow struct {
	holder    string
	expiresAt int64
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{locks: make(map[string]lockRow)}
}

func (s *scriptedStore) Execute(ctx context.Context, query string, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := params["key"].(string)
	if strings.Contains(query, "DELETE") {
		row, ok := s.locks[key]
		if ok && row.holder == params["holder"].(string) {
			delete(s.locks, key)
		}
		return nil
	}
	holder := params["holder"].(string)
	now := params["now"].(int64)
	expires := params["expires"].(int64)
	row, ok := s.locks[key]
	if !ok || row.holder == holder || row.expiresAt <= now {
		s.locks[key] = lockRow{holder: holder, expiresAt: expires}
	}
	return nil
}

func (s *scriptedStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.locks[params["key"].(string)]
	if !ok {
		return nil, nil
	}
	return []map[string]any{{"holder": row.holder, "expiresAt": row.expiresAt}}, nil
}

func (s *scriptedStore) CreateIndexes(ctx context.Context) error { return nil }
func (s *scriptedStore) IsConnected(ctx context.Context) bool    { return true }
func (s *scriptedStore) Close(ctx context.Context) error         { return nil }

func TestGraphLock_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	store := newScriptedStore()
	l := NewGraphLock(store, DefaultGraphLockConfig(), nil)

	require.NoError(t, l.TryLock(ctx, "COMPANY:acme", time.Second))
	require.NoError(t, l.Unlock(ctx, "COMPANY:acme"))

	assert.Empty(t, store.locks, "release deletes the lock node")
}

func TestGraphLock_ContendersExclude(t *testing.T) {
	ctx := context.Background()
	store := newScriptedStore()
	cfg := GraphLockConfig{TTL: time.Minute, MaxRetries: 2, RetryDelay: 10 * time.Millisecond}
	a := NewGraphLock(store, cfg, nil)
	b := NewGraphLock(store, cfg, nil)

	require.NoError(t, a.TryLock(ctx, "k", 500*time.Millisecond))

	err := b.TryLock(ctx, "k", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	require.NoError(t, a.Unlock(ctx, "k"))
	require.NoError(t, b.TryLock(ctx, "k", 500*time.Millisecond))
}

func TestGraphLock_ReclaimsExpired(t *testing.T) {
	ctx := context.Background()
	store := newScriptedStore()
	cfg := GraphLockConfig{TTL: time.Minute, MaxRetries: 1, RetryDelay: 5 * time.Millisecond}

	// A stale lock from a dead process, expired in the past.
	store.locks["k"] = lockRow{holder: "dead-process", expiresAt: time.Now().Add(-time.Minute).UnixMilli()}

	l := NewGraphLock(store, cfg, nil)
	require.NoError(t, l.TryLock(ctx, "k", 500*time.Millisecond))
	assert.Equal(t, l.Holder(), store.locks["k"].holder)
}

func TestGraphLock_ReentrantExtendsTTL(t *testing.T) {
	ctx := context.Background()
	store := newScriptedStore()
	l := NewGraphLock(store, DefaultGraphLockConfig(), nil)

	require.NoError(t, l.TryLock(ctx, "k", time.Second))
	first := store.locks["k"].expiresAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, l.TryLock(ctx, "k", time.Second))
	assert.GreaterOrEqual(t, store.locks["k"].expiresAt, first)
}

func TestGraphLock_UnlockForeignHolderIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newScriptedStore()
	store.locks["k"] = lockRow{holder: "other", expiresAt: time.Now().Add(time.Minute).UnixMilli()}

	l := NewGraphLock(store, DefaultGraphLockConfig(), nil)
	require.NoError(t, l.Unlock(ctx, "k"))
	assert.Equal(t, "other", store.locks["k"].holder, "foreign lock must survive")
}
