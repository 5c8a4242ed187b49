package cache

import (
	"fmt"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// Scope separates list entries from the scalar unread-count entry.
type Scope int

const (
	ScopeList Scope = iota
	ScopeUnreadCount
)

func (s Scope) String() string {
	switch s {
	case ScopeList:
		return "list"
	case ScopeUnreadCount:
		return "unread_count"
	}
	return "unknown"
}

// Key identifies a cache entry. Two consumers asking for different filters or
// limits use different keys over the same underlying notifications.
type Key struct {
	Scope   Scope
	Filters domain.Filters
}

func ListKey(filters domain.Filters) Key {
	return Key{Scope: ScopeList, Filters: filters.Normalize()}
}

func UnreadCountKey() Key {
	return Key{Scope: ScopeUnreadCount}
}

func (k Key) IsList() bool {
	return k.Scope == ScopeList
}

func (k Key) String() string {
	if k.Scope != ScopeList {
		return k.Scope.String()
	}

	read := string(k.Filters.Read)
	if read == "" {
		read = "any"
	}
	typ := k.Filters.Type.String()
	if typ == "" {
		typ = "any"
	}
	return fmt.Sprintf("list:type=%s:read=%s:page=%d:limit=%d", typ, read, k.Filters.Page, k.Filters.Limit)
}
