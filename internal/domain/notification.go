package domain

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Type classifies a notification for icon and route resolution.
type Type string

const (
	TypeOrder    Type = "order"
	TypeDelivery Type = "delivery"
	TypeRefund   Type = "refund"
	TypeReturn   Type = "return"
	TypeSupport  Type = "support"
	TypeProduct  Type = "product"
	TypeOther    Type = "other"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case TypeOrder, TypeDelivery, TypeRefund, TypeReturn, TypeSupport, TypeProduct, TypeOther:
		return true
	}
	return false
}

func ParseTypeFromString(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return t, nil
}

// NormalizeType maps unknown server values to TypeOther.
func NormalizeType(s string) Type {
	t, err := ParseTypeFromString(s)
	if err != nil {
		return TypeOther
	}
	return t
}

// HomePath is the navigation fallback when a notification carries no target.
const HomePath = "/"

// Metadata holds the entity references used as navigation fallbacks.
type Metadata struct {
	OrderID   string
	TicketID  string
	ProductID string
}

// Notification is a server-owned record visible to exactly one user.
type Notification struct {
	ID        string
	Type      Type
	Title     string
	Message   string
	CreatedAt time.Time
	Read      bool
	ReadAt    *time.Time
	ActionURL string
	Route     string
	Params    map[string]string
	Metadata  Metadata
}

// Clone returns a copy that shares no mutable state with n.
func (n Notification) Clone() Notification {
	out := n
	if n.ReadAt != nil {
		readAt := *n.ReadAt
		out.ReadAt = &readAt
	}
	if n.Params != nil {
		out.Params = make(map[string]string, len(n.Params))
		for k, v := range n.Params {
			out.Params[k] = v
		}
	}
	return out
}

// MarkRead returns a copy of n flagged as read at the given time.
func (n Notification) MarkRead(at time.Time) Notification {
	out := n.Clone()
	if out.Read {
		return out
	}
	out.Read = true
	readAt := at.UTC()
	out.ReadAt = &readAt
	return out
}

// Target resolves the navigation path with priority
// route > actionUrl > orderId > ticketId > productId.
func (n Notification) Target() (string, bool) {
	if route := strings.TrimSpace(n.Route); route != "" {
		return expandRoute(route, n.Params), true
	}
	if actionURL := strings.TrimSpace(n.ActionURL); actionURL != "" {
		return actionURL, true
	}
	if id := strings.TrimSpace(n.Metadata.OrderID); id != "" {
		return "/orders/" + url.PathEscape(id), true
	}
	if id := strings.TrimSpace(n.Metadata.TicketID); id != "" {
		return "/support/" + url.PathEscape(id), true
	}
	if id := strings.TrimSpace(n.Metadata.ProductID); id != "" {
		return "/product/" + url.PathEscape(id), true
	}
	return "", false
}

// TargetOrHome is Target with the HomePath fallback applied.
func (n Notification) TargetOrHome() string {
	if target, ok := n.Target(); ok {
		return target
	}
	return HomePath
}

func expandRoute(route string, params map[string]string) string {
	if len(params) == 0 {
		return route
	}

	segments := strings.Split(route, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		if value, ok := params[strings.TrimPrefix(segment, ":")]; ok {
			segments[i] = url.PathEscape(value)
		}
	}
	return strings.Join(segments, "/")
}

// SortByCreatedAtDesc orders notifications newest first. Ties keep input order.
func SortByCreatedAtDesc(items []Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
