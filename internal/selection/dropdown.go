package selection

import (
	"sync"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"go.uber.org/zap"
)

// Source is the cache surface the dropdown reads from.
type Source interface {
	Get(key cache.Key) (cache.Entry, bool)
	Notifications(match func(domain.Notification) bool) []domain.Notification
	Subscribe(fn func(cache.Key)) (unsubscribe func())
}

// Dropdown keeps a live preview for one filter set. It recomputes on every
// cache change so optimistic writes show up immediately.
type Dropdown struct {
	source  Source
	filters domain.Filters
	limit   int
	logger  *zap.Logger

	mu          sync.RWMutex
	items       []domain.Notification
	unsubscribe func()
}

func NewDropdown(source Source, filters domain.Filters, limit int, logger *zap.Logger) *Dropdown {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dropdown{
		source:  source,
		filters: filters.Normalize(),
		limit:   limit,
		logger:  logger,
		items:   []domain.Notification{},
	}
	d.unsubscribe = source.Subscribe(func(cache.Key) { d.recompute() })

	source.Get(cache.ListKey(d.filters))
	d.recompute()
	return d
}

// Items returns the current preview. Calling it also asks the cache to
// refresh the list when it went stale.
func (d *Dropdown) Items() []domain.Notification {
	d.source.Get(cache.ListKey(d.filters))

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.Notification, len(d.items))
	for i := range d.items {
		out[i] = d.items[i].Clone()
	}
	return out
}

func (d *Dropdown) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
}

func (d *Dropdown) recompute() {
	items := Preview(d.source.Notifications(d.filters.Matches), d.limit)

	d.mu.Lock()
	d.items = items
	d.mu.Unlock()

	d.logger.Debug("dropdown preview recomputed", zap.Int("items", len(items)))
}
