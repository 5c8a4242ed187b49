package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/selection"
)

const defaultReadTimeout = 5 * time.Second

// QueryService serves consumer reads from the cache. Reads never fail; they
// degrade to empty pages and a zero count.
type QueryService struct {
	cache   *cache.Cache
	timeout time.Duration
}

func NewQueryService(c *cache.Cache, timeout time.Duration) (*QueryService, error) {
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	return &QueryService{cache: c, timeout: timeout}, nil
}

// List returns the cached page for filters, waiting for the first fetch if
// the page is not cached yet.
func (q *QueryService) List(ctx context.Context, filters domain.Filters) cache.Entry {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	entry, _ := q.cache.Await(ctx, cache.ListKey(filters))
	return entry
}

func (q *QueryService) UnreadCount(ctx context.Context) cache.Entry {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	entry, _ := q.cache.Await(ctx, cache.UnreadCountKey())
	return entry
}

// Preview loads the list for filters and selects the dropdown items over
// everything cached that matches them.
func (q *QueryService) Preview(ctx context.Context, filters domain.Filters, n int) []domain.Notification {
	q.List(ctx, filters)
	return selection.Preview(q.cache.Notifications(filters.Matches), n)
}

// Find looks a notification up in whatever the cache currently holds.
func (q *QueryService) Find(id string) (domain.Notification, bool) {
	found := q.cache.Notifications(func(n domain.Notification) bool { return n.ID == id })
	if len(found) == 0 {
		return domain.Notification{}, false
	}
	return found[0], true
}

func (q *QueryService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, q.timeout)
}
