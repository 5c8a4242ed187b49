// Package wire is the serialization boundary for notifications. Upstream
// payloads expose the read flag as both "read" and "isRead"; everything
// inside the engine uses the single domain.Notification.Read field.
package wire

import (
	"strings"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// Notification is the JSON shape shared by the gateway, the HTTP surface and
// the snapshot store.
type Notification struct {
	ID        string            `json:"id,omitempty"`
	MongoID   string            `json:"_id,omitempty"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"createdAt"`
	Read      *bool             `json:"read,omitempty"`
	IsRead    *bool             `json:"isRead,omitempty"`
	ReadAt    *time.Time        `json:"readAt,omitempty"`
	ActionURL string            `json:"actionUrl,omitempty"`
	Route     string            `json:"route,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Metadata  *Metadata         `json:"metadata,omitempty"`
}

type Metadata struct {
	OrderID   string `json:"orderId,omitempty"`
	TicketID  string `json:"ticketId,omitempty"`
	ProductID string `json:"productId,omitempty"`
}

// ToDomain normalizes the payload. "read" takes precedence over "isRead";
// a payload carrying neither is unread.
func (n Notification) ToDomain() domain.Notification {
	id := strings.TrimSpace(n.ID)
	if id == "" {
		id = strings.TrimSpace(n.MongoID)
	}

	read := false
	switch {
	case n.Read != nil:
		read = *n.Read
	case n.IsRead != nil:
		read = *n.IsRead
	}

	out := domain.Notification{
		ID:        id,
		Type:      domain.NormalizeType(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC(),
		Read:      read,
		ActionURL: strings.TrimSpace(n.ActionURL),
		Route:     strings.TrimSpace(n.Route),
	}
	if read && n.ReadAt != nil {
		readAt := n.ReadAt.UTC()
		out.ReadAt = &readAt
	}
	if len(n.Params) > 0 {
		out.Params = make(map[string]string, len(n.Params))
		for k, v := range n.Params {
			out.Params[k] = v
		}
	}
	if n.Metadata != nil {
		out.Metadata = domain.Metadata{
			OrderID:   strings.TrimSpace(n.Metadata.OrderID),
			TicketID:  strings.TrimSpace(n.Metadata.TicketID),
			ProductID: strings.TrimSpace(n.Metadata.ProductID),
		}
	}
	return out
}

// FromDomain always writes both read aliases from the canonical flag.
func FromDomain(n domain.Notification) Notification {
	read := n.Read
	isRead := n.Read

	out := Notification{
		ID:        n.ID,
		MongoID:   n.ID,
		Type:      n.Type.String(),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
		Read:      &read,
		IsRead:    &isRead,
		ActionURL: n.ActionURL,
		Route:     n.Route,
	}
	if n.ReadAt != nil {
		readAt := *n.ReadAt
		out.ReadAt = &readAt
	}
	if len(n.Params) > 0 {
		out.Params = make(map[string]string, len(n.Params))
		for k, v := range n.Params {
			out.Params[k] = v
		}
	}
	if n.Metadata != (domain.Metadata{}) {
		out.Metadata = &Metadata{
			OrderID:   n.Metadata.OrderID,
			TicketID:  n.Metadata.TicketID,
			ProductID: n.Metadata.ProductID,
		}
	}
	return out
}

func ToDomainList(items []Notification) []domain.Notification {
	out := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		n := item.ToDomain()
		if n.ID == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

func FromDomainList(items []domain.Notification) []Notification {
	out := make([]Notification, 0, len(items))
	for _, item := range items {
		out = append(out, FromDomain(item))
	}
	return out
}

// Page is the list payload. Pagination fields are optional upstream.
type Page struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
}

func (p Page) ToDomain(filters domain.Filters) domain.Page {
	filters = filters.Normalize()
	out := domain.Page{
		Notifications: ToDomainList(p.Notifications),
		Total:         p.Total,
		Page:          p.Page,
		Limit:         p.Limit,
	}
	if out.Page < 1 {
		out.Page = filters.Page
	}
	if out.Limit < 1 {
		out.Limit = filters.Limit
	}
	if out.Total < len(out.Notifications) {
		out.Total = len(out.Notifications)
	}
	return out
}

func PageFromDomain(p domain.Page) Page {
	return Page{
		Notifications: FromDomainList(p.Notifications),
		Total:         p.Total,
		Page:          p.Page,
		Limit:         p.Limit,
	}
}
