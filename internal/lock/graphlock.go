package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
)

// GraphLockConfig tunes the cross-process advisory lock.
type GraphLockConfig struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultGraphLockConfig matches short resolution critical sections.
func DefaultGraphLockConfig() GraphLockConfig {
	return GraphLockConfig{
		TTL:        30 * time.Second,
		MaxRetries: 10,
		RetryDelay: 100 * time.Millisecond,
	}
}

// GraphLock is a cross-process advisory lock stored as (:Lock {key, holder,
// acquiredAt, expiresAt}) with upsert semantics. A lock whose expiresAt has
// passed is reclaimable. The holder id is one fresh UUID per process, so a
// crashed process never wedges a key longer than the TTL.
type GraphLock struct {
	store  graph.Store
	cfg    GraphLockConfig
	holder string
	logger *slog.Logger
	now    func() time.Time
}

// NewGraphLock creates the advisory locker over the given store.
func NewGraphLock(store graph.Store, cfg GraphLockConfig, logger *slog.Logger) *GraphLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphLock{
		store:  store,
		cfg:    cfg,
		holder: uuid.NewString(),
		logger: logger,
		now:    time.Now,
	}
}

// tryAcquire performs one conditional upsert attempt and reports whether
// this process now holds the key.
func (l *GraphLock) tryAcquire(ctx context.Context, key string) (bool, error) {
	now := l.now().UTC()
	params := map[string]any{
		"key":     key,
		"holder":  l.holder,
		"now":     now.UnixMilli(),
		"expires": now.Add(l.cfg.TTL).UnixMilli(),
	}
	// Conditional upsert: the FOREACH-over-conditional-list idiom claims the
	// key only when it is unowned, expired, or already ours (re-claiming
	// extends the TTL, which makes the lock reentrant per process). The
	// statement never steals another holder's live lock, so whoever the
	// follow-up read reports is the true holder.
	err := l.store.Execute(ctx, `
		MERGE (lk:Lock {key: $key})
		ON CREATE SET lk.holder = $holder, lk.acquiredAt = $now, lk.expiresAt = $expires
		WITH lk, (lk.holder = $holder OR lk.expiresAt <= $now) AS claimable
		FOREACH (_ IN CASE WHEN claimable THEN [1] ELSE [] END |
			SET lk.holder = $holder, lk.acquiredAt = $now, lk.expiresAt = $expires)`,
		params)
	if err != nil {
		return false, err
	}
	rows, err := l.store.Query(ctx, `
		MATCH (lk:Lock {key: $key})
		RETURN lk.holder AS holder, lk.expiresAt AS expiresAt
		LIMIT 1`,
		map[string]any{"key": key})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		// Deleted between the upsert and the read; treat as not acquired
		// and let the retry loop take another pass.
		return false, nil
	}
	holder, _ := rows[0]["holder"].(string)
	return holder == l.holder, nil
}

// TryLock acquires the key, retrying with jittered backoff up to MaxRetries
// within the caller's timeout.
func (l *GraphLock) TryLock(ctx context.Context, key string, timeout time.Duration) error {
	deadline := l.now().Add(timeout)
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(l.cfg.RetryDelay),
		backoff.WithMaxInterval(timeout/2+time.Millisecond),
	), uint64(l.cfg.MaxRetries))

	for {
		ok, err := l.tryAcquire(ctx, key)
		if err != nil {
			return fmt.Errorf("lock: acquire %q: %w", key, err)
		}
		if ok {
			return nil
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop || l.now().Add(wait).After(deadline) {
			return timeoutErr(key, timeout)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unlock deletes the key's lock node if this process holds it. Unlocking a
// key held by someone else, or not held at all, is a no-op.
func (l *GraphLock) Unlock(ctx context.Context, key string) error {
	err := l.store.Execute(ctx, `
		MATCH (lk:Lock {key: $key, holder: $holder})
		DELETE lk`,
		map[string]any{"key": key, "holder": l.holder})
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", key, err)
	}
	return nil
}

// Holder exposes the process holder id for diagnostics.
func (l *GraphLock) Holder() string { return l.holder }
