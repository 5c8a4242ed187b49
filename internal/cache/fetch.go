package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/gateway"
	"github.com/kursadbilgin/notification-sync/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	outcomeSuccess         = "success"
	outcomeUnauthenticated = "unauthenticated"
	outcomeTransport       = "transport"
	outcomeRejected        = "rejected"
)

func (c *Cache) runFetch(ctx context.Context, key Key, gen uint64, userID string) {
	defer c.wg.Done()

	fetched, err := c.load(ctx, key, userID)

	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok || s.fetch == nil || s.fetch.gen != gen || ctx.Err() != nil {
		// Superseded by Cancel, Hold or Reset.
		c.mu.Unlock()
		c.metrics.ObserveDiscardedFetch(key.Scope.String())
		c.logger.Debug("discarded superseded fetch", zap.String("key", key.String()))
		return
	}
	s.fetch.cancel()
	s.fetch = nil

	entry, outcome := c.settle(key, s, fetched, err)
	s.entry = entry
	s.present = true
	s.version++
	c.broadcastLocked()
	c.mu.Unlock()

	c.metrics.ObserveFetch(key.Scope.String(), outcome)
	if err != nil {
		c.logger.Warn("notification fetch failed",
			zap.String("key", key.String()),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}

	c.afterWrite(key, entry)
	if err == nil {
		c.persist(userID, entry)
	}
}

// settle decides what a finished fetch leaves in the slot. Auth and transport
// failures degrade to empty/zero. A rejection keeps the last known value.
func (c *Cache) settle(key Key, s *slot, fetched Entry, err error) (Entry, string) {
	now := c.now()

	if err == nil {
		fetched.Key = key
		fetched.UpdatedAt = now
		fetched.Count = clampCount(fetched.Count)
		return fetched, outcomeSuccess
	}

	entry := emptyEntry(key)
	outcome := outcomeRejected
	switch {
	case gateway.IsUnauthenticated(err):
		outcome = outcomeUnauthenticated
	case isTransportError(err):
		outcome = outcomeTransport
	case s.present:
		entry = s.entry.Clone()
	}

	entry.UpdatedAt = now
	entry.Stale = false
	entry.Err = err
	return entry, outcome
}

func (c *Cache) load(ctx context.Context, key Key, userID string) (Entry, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx, ratelimit.Scope(userID, key.Scope.String())); err != nil {
				return Entry{}, err
			}
		}

		entry, err := c.fetchOnce(ctx, key)
		if err == nil {
			return entry, nil
		}
		lastErr = err

		if attempt == c.opts.MaxAttempts || !gateway.IsTransient(err) {
			break
		}
		if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
			return Entry{}, err
		}
	}

	return Entry{}, lastErr
}

func (c *Cache) fetchOnce(ctx context.Context, key Key) (Entry, error) {
	entry := Entry{Key: key}

	switch key.Scope {
	case ScopeUnreadCount:
		count, err := c.gateway.UnreadCount(ctx)
		if err != nil {
			return Entry{}, err
		}
		entry.Count = count
	default:
		page, err := c.gateway.List(ctx, key.Filters)
		if err != nil {
			return Entry{}, err
		}
		entry.Page = page
	}

	return entry, nil
}

func (c *Cache) persist(userID string, entry Entry) {
	if c.opts.Store == nil || userID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(c.rootCtx, persistTimeout)
	defer cancel()

	if err := c.opts.Store.Save(ctx, userID, entry); err != nil {
		c.logger.Warn("failed to persist cache entry",
			zap.String("key", entry.Key.String()),
			zap.Error(err),
		)
	}
}

func isTransportError(err error) bool {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind == gateway.KindTransport
	}
	return true
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
