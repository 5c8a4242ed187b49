package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/wire"
)

const defaultGatewayTimeout = 10 * time.Second

type envelopeStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type listEnvelope struct {
	envelopeStatus
	wire.Page
	Data *wire.Page `json:"data"`
}

type unreadCountPayload struct {
	UnreadCount *int `json:"unreadCount"`
}

type unreadEnvelope struct {
	envelopeStatus
	unreadCountPayload
	Data *unreadCountPayload `json:"data"`
}

type deleteManyRequest struct {
	IDs []string `json:"ids"`
}

var _ Gateway = (*HTTPGateway)(nil)

// HTTPGateway talks to the storefront notification REST API.
type HTTPGateway struct {
	client *resty.Client
	tokens TokenSource
}

func NewHTTPGateway(baseURL string, tokens TokenSource, timeout time.Duration) (*HTTPGateway, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	client.SetTimeout(timeout)

	return NewHTTPGatewayWithClient(baseURL, client, tokens)
}

func NewHTTPGatewayWithClient(baseURL string, client *resty.Client, tokens TokenSource) (*HTTPGateway, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	// Retries are owned by the cache so that auth failures are never retried.
	client.SetRetryCount(0)
	client.SetBaseURL(trimmed)

	if tokens == nil {
		tokens = func() string { return "" }
	}

	return &HTTPGateway{client: client, tokens: tokens}, nil
}

func (g *HTTPGateway) List(ctx context.Context, filters domain.Filters) (domain.Page, error) {
	filters = filters.Normalize()

	params := map[string]string{
		"page":  strconv.Itoa(filters.Page),
		"limit": strconv.Itoa(filters.Limit),
		"sort":  "-createdAt",
	}
	if filters.Type != "" {
		params["type"] = filters.Type.String()
	}
	switch filters.Read {
	case domain.ReadOnly:
		params["read"] = "true"
	case domain.UnreadOnly:
		params["read"] = "false"
	}

	resp, err := g.do(ctx, "list", http.MethodGet, "/notifications", func(r *resty.Request) {
		r.SetQueryParams(params)
	})
	if err != nil {
		return domain.Page{}, err
	}

	var env listEnvelope
	if err := decodeBody("list", resp, &env); err != nil {
		return domain.Page{}, err
	}
	if err := env.check("list", resp.StatusCode()); err != nil {
		return domain.Page{}, err
	}

	page := env.Page
	if env.Data != nil {
		page = *env.Data
	}
	return page.ToDomain(filters), nil
}

func (g *HTTPGateway) UnreadCount(ctx context.Context) (int, error) {
	resp, err := g.do(ctx, "unread_count", http.MethodGet, "/notifications/unread", nil)
	if err != nil {
		return 0, err
	}

	var env unreadEnvelope
	if err := decodeBody("unread_count", resp, &env); err != nil {
		return 0, err
	}
	if err := env.check("unread_count", resp.StatusCode()); err != nil {
		return 0, err
	}

	count := 0
	switch {
	case env.Data != nil && env.Data.UnreadCount != nil:
		count = *env.Data.UnreadCount
	case env.UnreadCount != nil:
		count = *env.UnreadCount
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

func (g *HTTPGateway) MarkRead(ctx context.Context, id string) error {
	return g.ack(ctx, "mark_read", http.MethodPatch, "/notifications/read/"+url.PathEscape(id), nil)
}

func (g *HTTPGateway) MarkAllRead(ctx context.Context) error {
	return g.ack(ctx, "mark_all_read", http.MethodPatch, "/notifications/read-all", nil)
}

func (g *HTTPGateway) DeleteOne(ctx context.Context, id string) error {
	return g.ack(ctx, "delete", http.MethodDelete, "/notifications/"+url.PathEscape(id), nil)
}

func (g *HTTPGateway) DeleteMany(ctx context.Context, ids []string) error {
	return g.ack(ctx, "delete_many", http.MethodDelete, "/notifications/bulk", func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(deleteManyRequest{IDs: ids})
	})
}

func (g *HTTPGateway) DeleteAll(ctx context.Context) error {
	return g.ack(ctx, "delete_all", http.MethodDelete, "/notifications/all", nil)
}

func (g *HTTPGateway) ack(ctx context.Context, op, method, path string, configure func(*resty.Request)) error {
	resp, err := g.do(ctx, op, method, path, configure)
	if err != nil {
		return err
	}

	if len(strings.TrimSpace(resp.String())) == 0 {
		return nil
	}

	var env envelopeStatus
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		// A non-JSON 2xx body is still an acknowledgement.
		return nil
	}
	return env.check(op, resp.StatusCode())
}

func (g *HTTPGateway) do(
	ctx context.Context,
	op string,
	method string,
	path string,
	configure func(*resty.Request),
) (*resty.Response, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req := g.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	token, pinned := TokenFromContext(ctx)
	if !pinned {
		token = g.tokens()
	}
	if token = strings.TrimSpace(token); token != "" {
		req.SetAuthToken(token)
	}
	if configure != nil {
		configure(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &Error{
			Op:        op,
			Kind:      KindTransport,
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if resp == nil {
		return nil, &Error{
			Op:        op,
			Kind:      KindTransport,
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := resp.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	return nil, statusError(op, statusCode, resp.String())
}

func decodeBody(op string, resp *resty.Response, out any) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{
			Op:         op,
			Kind:       KindRejected,
			StatusCode: resp.StatusCode(),
			Message:    "gateway returned malformed body",
			Cause:      err,
		}
	}
	return nil
}

func (e envelopeStatus) check(op string, statusCode int) error {
	switch strings.ToLower(strings.TrimSpace(e.Status)) {
	case "", "success", "ok":
		return nil
	}

	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = fmt.Sprintf("gateway reported status %q", e.Status)
	}
	return &Error{
		Op:         op,
		Kind:       KindRejected,
		StatusCode: statusCode,
		Message:    message,
	}
}
