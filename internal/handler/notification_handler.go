package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/service"
	"github.com/kursadbilgin/notification-sync/internal/wire"
)

const defaultSettleTimeout = 15 * time.Second

type NotificationQueries interface {
	List(ctx context.Context, filters domain.Filters) cache.Entry
	UnreadCount(ctx context.Context) cache.Entry
	Preview(ctx context.Context, filters domain.Filters, n int) []domain.Notification
	Find(id string) (domain.Notification, bool)
}

type NotificationMutations interface {
	MarkRead(ctx context.Context, id string, opts ...service.MutationOption) *service.Mutation
	MarkAllRead(ctx context.Context, opts ...service.MutationOption) *service.Mutation
	Delete(ctx context.Context, id string, opts ...service.MutationOption) *service.Mutation
	DeleteMany(ctx context.Context, ids []string, opts ...service.MutationOption) *service.Mutation
	DeleteAll(ctx context.Context, opts ...service.MutationOption) *service.Mutation
}

type NotificationOpener interface {
	Open(ctx context.Context, n domain.Notification, navigate service.Navigator) (string, *service.Mutation)
}

// PreviewSource serves the live dropdown for the default filters.
type PreviewSource interface {
	Items() []domain.Notification
}

type NotificationDeps struct {
	Queries   NotificationQueries
	Mutations NotificationMutations
	Opener    NotificationOpener
	Dropdown  PreviewSource

	PreviewLimit  int
	SettleTimeout time.Duration
}

type NotificationHandler struct {
	deps NotificationDeps
}

func NewNotificationHandler(deps NotificationDeps) (*NotificationHandler, error) {
	if deps.Queries == nil {
		return nil, fmt.Errorf("notification queries are required")
	}
	if deps.Mutations == nil {
		return nil, fmt.Errorf("notification mutations are required")
	}
	if deps.Opener == nil {
		return nil, fmt.Errorf("notification opener is required")
	}
	if deps.SettleTimeout <= 0 {
		deps.SettleTimeout = defaultSettleTimeout
	}
	return &NotificationHandler{deps: deps}, nil
}

func RegisterNotificationRoutes(router fiber.Router, deps NotificationDeps) error {
	h, err := NewNotificationHandler(deps)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/notifications")
	v1.Get("/", h.ListNotifications)
	v1.Get("/unread-count", h.UnreadCount)
	v1.Get("/preview", h.Preview)
	v1.Post("/read-all", h.MarkAllRead)
	v1.Delete("/bulk", h.DeleteMany)
	v1.Delete("/all", h.DeleteAll)
	v1.Post("/:id/read", h.MarkRead)
	v1.Post("/:id/open", h.Open)
	v1.Delete("/:id", h.Delete)

	return nil
}

type listNotificationsResponse struct {
	Data []wire.Notification `json:"data"`
	Meta listMeta            `json:"meta"`
}

type listMeta struct {
	Page      int       `json:"page"`
	Limit     int       `json:"limit"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updatedAt"`
	Stale     bool      `json:"stale"`
	Degraded  bool      `json:"degraded"`
}

type unreadCountResponse struct {
	UnreadCount int       `json:"unreadCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Degraded    bool      `json:"degraded"`
}

type previewResponse struct {
	Data []wire.Notification `json:"data"`
}

type mutationResponse struct {
	MutationID string   `json:"mutationId"`
	Kind       string   `json:"kind"`
	Status     string   `json:"status"`
	IDs        []string `json:"ids,omitempty"`
}

type openResponse struct {
	Target     string `json:"target"`
	MutationID string `json:"mutationId,omitempty"`
}

type deleteManyRequest struct {
	IDs []string `json:"ids"`
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	filters, err := parseFilters(c)
	if err != nil {
		return err
	}

	entry := h.deps.Queries.List(c.UserContext(), filters)
	page := entry.Page
	if page.Page == 0 {
		page = domain.EmptyPage(filters)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: wire.FromDomainList(page.Notifications),
		Meta: listMeta{
			Page:      page.Page,
			Limit:     page.Limit,
			Total:     page.Total,
			UpdatedAt: entry.UpdatedAt,
			Stale:     entry.Stale,
			Degraded:  entry.Err != nil,
		},
	})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	entry := h.deps.Queries.UnreadCount(c.UserContext())

	return c.Status(fiber.StatusOK).JSON(unreadCountResponse{
		UnreadCount: entry.Count,
		UpdatedAt:   entry.UpdatedAt,
		Degraded:    entry.Err != nil,
	})
}

func (h *NotificationHandler) Preview(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return fmt.Errorf("%w: limit must be positive", domain.ErrValidation)
	}

	filters := domain.Filters{}
	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		t, err := domain.ParseTypeFromString(rawType)
		if err != nil {
			return err
		}
		filters.Type = t
	}

	var items []domain.Notification
	if h.deps.Dropdown != nil && filters.Type == "" && (limit == 0 || limit == h.deps.PreviewLimit) {
		items = h.deps.Dropdown.Items()
		if len(items) == 0 {
			// The dropdown fills in on the first fetch; wait for it here.
			items = h.deps.Queries.Preview(c.UserContext(), filters, h.deps.PreviewLimit)
		}
	} else {
		if limit == 0 {
			limit = h.deps.PreviewLimit
		}
		items = h.deps.Queries.Preview(c.UserContext(), filters, limit)
	}

	return c.Status(fiber.StatusOK).JSON(previewResponse{Data: wire.FromDomainList(items)})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	return h.settle(c, h.deps.Mutations.MarkRead(c.UserContext(), c.Params("id")))
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	return h.settle(c, h.deps.Mutations.MarkAllRead(c.UserContext()))
}

func (h *NotificationHandler) Delete(c *fiber.Ctx) error {
	return h.settle(c, h.deps.Mutations.Delete(c.UserContext(), c.Params("id")))
}

func (h *NotificationHandler) DeleteMany(c *fiber.Ctx) error {
	var req deleteManyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return h.settle(c, h.deps.Mutations.DeleteMany(c.UserContext(), req.IDs))
}

func (h *NotificationHandler) DeleteAll(c *fiber.Ctx) error {
	return h.settle(c, h.deps.Mutations.DeleteAll(c.UserContext()))
}

// Open answers with the navigation target straight away. The mark-read it
// triggers settles in the background.
func (h *NotificationHandler) Open(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	n, ok := h.deps.Queries.Find(id)
	if !ok {
		return fmt.Errorf("%w: notification %q is not loaded", domain.ErrNotFound, id)
	}

	target, m := h.deps.Opener.Open(c.UserContext(), n, nil)

	resp := openResponse{Target: target}
	if m != nil {
		resp.MutationID = m.ID
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *NotificationHandler) settle(c *fiber.Ctx, m *service.Mutation) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.deps.SettleTimeout)
	defer cancel()

	err := m.Wait(ctx)
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(toMutationResponse(m))
	case errors.Is(err, context.DeadlineExceeded) && m.Status() == service.MutationPending:
		return c.Status(fiber.StatusAccepted).JSON(toMutationResponse(m))
	default:
		return err
	}
}

func toMutationResponse(m *service.Mutation) mutationResponse {
	return mutationResponse{
		MutationID: m.ID,
		Kind:       m.Kind.String(),
		Status:     m.Status().String(),
		IDs:        m.IDs,
	}
}

func parseFilters(c *fiber.Ctx) (domain.Filters, error) {
	filters := domain.Filters{
		Page:  c.QueryInt("page", domain.DefaultPage),
		Limit: c.QueryInt("limit", domain.DefaultLimit),
	}

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		t, err := domain.ParseTypeFromString(rawType)
		if err != nil {
			return domain.Filters{}, err
		}
		filters.Type = t
	}

	read, err := domain.ParseReadFilter(c.Query("read"))
	if err != nil {
		return domain.Filters{}, err
	}
	filters.Read = read

	if filters.Page < 1 {
		return domain.Filters{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if err := filters.Validate(); err != nil {
		return domain.Filters{}, err
	}
	if filters.Limit < 1 {
		return domain.Filters{}, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, domain.MaxLimit)
	}

	return filters, nil
}
