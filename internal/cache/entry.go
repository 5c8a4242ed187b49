package cache

import (
	"time"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// Entry is a time-stamped value for one key: a Page for list keys or a Count
// for the unread-count key. Err holds the last fetch failure, if any; reads
// never return it as a Go error.
type Entry struct {
	Key       Key
	Page      domain.Page
	Count     int
	UpdatedAt time.Time
	Stale     bool
	Err       error
}

func (e Entry) Clone() Entry {
	out := e
	out.Page = e.Page.Clone()
	return out
}

// emptyEntry is what a key degrades to when nothing better is known.
func emptyEntry(key Key) Entry {
	entry := Entry{Key: key}
	if key.IsList() {
		entry.Page = domain.EmptyPage(key.Filters)
	}
	return entry
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
