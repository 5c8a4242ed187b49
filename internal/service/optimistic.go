package service

import (
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// transform is the optimistic effect of one mutation on list pages and on the
// unread count.
type transform struct {
	page  func(page domain.Page, now time.Time) domain.Page
	count func(count int) int
}

func (t transform) apply(entry cache.Entry, now time.Time) cache.Entry {
	out := entry.Clone()
	if entry.Key.IsList() {
		out.Page = t.page(out.Page, now)
	} else {
		out.Count = clampCount(t.count(out.Count))
	}
	return out
}

func markReadTransform(ids map[string]struct{}, unreadHits int) transform {
	return transform{
		page: func(page domain.Page, now time.Time) domain.Page {
			for i, n := range page.Notifications {
				if _, ok := ids[n.ID]; ok {
					page.Notifications[i] = n.MarkRead(now)
				}
			}
			return page
		},
		count: func(count int) int { return count - unreadHits },
	}
}

func markAllReadTransform() transform {
	return transform{
		page: func(page domain.Page, now time.Time) domain.Page {
			for i, n := range page.Notifications {
				page.Notifications[i] = n.MarkRead(now)
			}
			return page
		},
		count: func(int) int { return 0 },
	}
}

func deleteTransform(ids map[string]struct{}, unreadHits int) transform {
	return transform{
		page: func(page domain.Page, _ time.Time) domain.Page {
			kept := make([]domain.Notification, 0, len(page.Notifications))
			for _, n := range page.Notifications {
				if _, ok := ids[n.ID]; ok {
					continue
				}
				kept = append(kept, n)
			}
			page.Total -= len(page.Notifications) - len(kept)
			if page.Total < len(kept) {
				page.Total = len(kept)
			}
			page.Notifications = kept
			return page
		},
		count: func(count int) int { return count - unreadHits },
	}
}

func deleteAllTransform() transform {
	return transform{
		page: func(page domain.Page, _ time.Time) domain.Page {
			page.Notifications = []domain.Notification{}
			page.Total = 0
			return page
		},
		count: func(int) int { return 0 },
	}
}

// unreadAmong counts the distinct ids that are cached as unread in any list
// entry. Ids that are not cached do not count.
func unreadAmong(entries []cache.Entry, ids map[string]struct{}) int {
	unread := make(map[string]struct{})
	for _, entry := range entries {
		if !entry.Key.IsList() {
			continue
		}
		for _, n := range entry.Page.Notifications {
			if n.Read {
				continue
			}
			if _, ok := ids[n.ID]; ok {
				unread[n.ID] = struct{}{}
			}
		}
	}
	return len(unread)
}

// markReadHits is unreadAmong plus the ids no list entry holds. Marking an
// uncached id read still takes one off the count; an id cached as read does
// not.
func markReadHits(entries []cache.Entry, ids map[string]struct{}) int {
	seen := make(map[string]struct{}, len(ids))
	for _, entry := range entries {
		if !entry.Key.IsList() {
			continue
		}
		for _, n := range entry.Page.Notifications {
			if _, ok := ids[n.ID]; ok {
				seen[n.ID] = struct{}{}
			}
		}
	}
	return unreadAmong(entries, ids) + len(ids) - len(seen)
}

// revertEntry undoes the difference between before and after on top of
// current. It is used when another write landed on the entry after this
// mutation's optimistic apply, so a verbatim restore would clobber it.
func revertEntry(before, after, current cache.Entry) cache.Entry {
	out := current.Clone()
	if current.Key.IsList() {
		out.Page = revertPage(before.Page, after.Page, current.Page)
	} else {
		out.Count = clampCount(current.Count + before.Count - after.Count)
	}
	return out
}

func revertPage(before, after, current domain.Page) domain.Page {
	out := current.Clone()

	kept := make(map[string]domain.Notification, len(after.Notifications))
	for _, n := range after.Notifications {
		kept[n.ID] = n
	}

	flipped := make(map[string]domain.Notification)
	for _, n := range before.Notifications {
		if a, ok := kept[n.ID]; ok && !n.Read && a.Read {
			flipped[n.ID] = n
		}
	}

	present := make(map[string]struct{}, len(out.Notifications))
	for i, n := range out.Notifications {
		present[n.ID] = struct{}{}
		if orig, ok := flipped[n.ID]; ok && n.Read {
			restored := n.Clone()
			restored.Read = false
			restored.ReadAt = orig.ReadAt
			out.Notifications[i] = restored
		}
	}

	for idx, n := range before.Notifications {
		if _, ok := kept[n.ID]; ok {
			continue
		}
		if _, ok := present[n.ID]; ok {
			continue
		}
		pos := idx
		if pos > len(out.Notifications) {
			pos = len(out.Notifications)
		}
		out.Notifications = append(out.Notifications, domain.Notification{})
		copy(out.Notifications[pos+1:], out.Notifications[pos:])
		out.Notifications[pos] = n.Clone()
		present[n.ID] = struct{}{}
	}

	out.Total += before.Total - after.Total
	if out.Total < len(out.Notifications) {
		out.Total = len(out.Notifications)
	}
	return out
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
