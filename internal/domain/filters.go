package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 100
)

// ReadFilter is the tri-state read filter of a list query.
type ReadFilter string

const (
	ReadAny    ReadFilter = ""
	ReadOnly   ReadFilter = "read"
	UnreadOnly ReadFilter = "unread"
)

func (f ReadFilter) IsValid() bool {
	switch f {
	case ReadAny, ReadOnly, UnreadOnly:
		return true
	}
	return false
}

// ParseReadFilter accepts "", "all", "read", "unread", "true" and "false".
func ParseReadFilter(s string) (ReadFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ReadAny, nil
	case "read", "true":
		return ReadOnly, nil
	case "unread", "false":
		return UnreadOnly, nil
	}
	return "", fmt.Errorf("%w: invalid read filter %q", ErrValidation, s)
}

// Filters are the query parameters of a list view. The zero value lists the
// first page of every notification.
type Filters struct {
	Type  Type
	Read  ReadFilter
	Page  int
	Limit int
}

// Normalize applies defaults so equal queries produce equal cache keys.
func (f Filters) Normalize() Filters {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

func (f Filters) Validate() error {
	if f.Type != "" && !f.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, f.Type)
	}
	if !f.Read.IsValid() {
		return fmt.Errorf("%w: invalid read filter %q", ErrValidation, f.Read)
	}
	if f.Page < 0 {
		return fmt.Errorf("%w: page must be >= 1", ErrValidation)
	}
	if f.Limit < 0 || f.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxLimit)
	}
	return nil
}

// Matches reports whether n is visible under the type and read filters.
// Pagination is not considered.
func (f Filters) Matches(n Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	switch f.Read {
	case ReadOnly:
		return n.Read
	case UnreadOnly:
		return !n.Read
	}
	return true
}

// Page is one page of a list query.
type Page struct {
	Notifications []Notification
	Total         int
	Page          int
	Limit         int
}

func (p Page) Clone() Page {
	out := p
	if p.Notifications != nil {
		out.Notifications = make([]Notification, len(p.Notifications))
		for i := range p.Notifications {
			out.Notifications[i] = p.Notifications[i].Clone()
		}
	}
	return out
}

// EmptyPage is the degraded result of a failed list fetch.
func EmptyPage(f Filters) Page {
	f = f.Normalize()
	return Page{
		Notifications: []Notification{},
		Page:          f.Page,
		Limit:         f.Limit,
	}
}
