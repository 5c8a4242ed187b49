package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseTypeFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Type
		wantErr bool
	}{
		{name: "valid lowercase", input: "order", want: TypeOrder},
		{name: "valid uppercase with spaces", input: " DELIVERY ", want: TypeDelivery},
		{name: "invalid", input: "promo", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseTypeFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseTypeFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseTypeFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseTypeFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNormalizeTypeFallsBackToOther(t *testing.T) {
	t.Parallel()

	if got := NormalizeType("flash_sale"); got != TypeOther {
		t.Fatalf("NormalizeType() = %s, want %s", got, TypeOther)
	}
	if got := NormalizeType("Refund"); got != TypeRefund {
		t.Fatalf("NormalizeType() = %s, want %s", got, TypeRefund)
	}
}

func TestNotificationTargetPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		n      Notification
		want   string
		wantOK bool
	}{
		{
			name: "route wins over everything",
			n: Notification{
				Route:     "/orders/:orderId/tracking",
				Params:    map[string]string{"orderId": "o-1"},
				ActionURL: "/ignored",
				Metadata:  Metadata{OrderID: "o-2"},
			},
			want:   "/orders/o-1/tracking",
			wantOK: true,
		},
		{
			name:   "action url before metadata",
			n:      Notification{ActionURL: "/wallet", Metadata: Metadata{OrderID: "o-2"}},
			want:   "/wallet",
			wantOK: true,
		},
		{
			name:   "order id",
			n:      Notification{Metadata: Metadata{OrderID: "o-2", TicketID: "t-1"}},
			want:   "/orders/o-2",
			wantOK: true,
		},
		{
			name:   "ticket id",
			n:      Notification{Metadata: Metadata{TicketID: "t-1", ProductID: "p-1"}},
			want:   "/support/t-1",
			wantOK: true,
		},
		{
			name:   "product id",
			n:      Notification{Metadata: Metadata{ProductID: "p-1"}},
			want:   "/product/p-1",
			wantOK: true,
		},
		{
			name:   "no target",
			n:      Notification{},
			want:   "",
			wantOK: false,
		},
		{
			name:   "route without params is used verbatim",
			n:      Notification{Route: "/profile/wallet"},
			want:   "/profile/wallet",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := tt.n.Target()
			if ok != tt.wantOK {
				t.Fatalf("Target() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Fatalf("Target() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotificationTargetOrHome(t *testing.T) {
	t.Parallel()

	if got := (Notification{}).TargetOrHome(); got != HomePath {
		t.Fatalf("TargetOrHome() = %q, want %q", got, HomePath)
	}
}

func TestNotificationMarkReadDoesNotAliasOriginal(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	original := Notification{ID: "n-1", Params: map[string]string{"a": "1"}}

	marked := original.MarkRead(at)
	marked.Params["a"] = "2"

	if original.Read {
		t.Fatal("original should stay unread")
	}
	if !marked.Read || marked.ReadAt == nil || !marked.ReadAt.Equal(at) {
		t.Fatalf("marked = %+v, want read at %v", marked, at)
	}
	if original.Params["a"] != "1" {
		t.Fatal("MarkRead() should not share params with the original")
	}
}

func TestSortByCreatedAtDesc(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []Notification{
		{ID: "old", CreatedAt: base},
		{ID: "new", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "mid", CreatedAt: base.Add(time.Hour)},
	}

	SortByCreatedAtDesc(items)

	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("items[%d] = %s, want %s", i, items[i].ID, id)
		}
	}
}

func TestFiltersNormalizeAndMatch(t *testing.T) {
	t.Parallel()

	f := Filters{Type: TypeOrder, Read: UnreadOnly, Limit: 500}.Normalize()
	if f.Page != DefaultPage || f.Limit != MaxLimit {
		t.Fatalf("Normalize() = %+v, want page=%d limit=%d", f, DefaultPage, MaxLimit)
	}

	if !f.Matches(Notification{Type: TypeOrder}) {
		t.Fatal("unread order should match")
	}
	if f.Matches(Notification{Type: TypeOrder, Read: true}) {
		t.Fatal("read order should not match unread filter")
	}
	if f.Matches(Notification{Type: TypeSupport}) {
		t.Fatal("support should not match order filter")
	}
}

func TestParseReadFilter(t *testing.T) {
	t.Parallel()

	cases := map[string]ReadFilter{
		"":       ReadAny,
		"all":    ReadAny,
		"true":   ReadOnly,
		"unread": UnreadOnly,
		"FALSE":  UnreadOnly,
	}
	for input, want := range cases {
		got, err := ParseReadFilter(input)
		if err != nil {
			t.Fatalf("ParseReadFilter(%q) error = %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseReadFilter(%q) = %q, want %q", input, got, want)
		}
	}

	if _, err := ParseReadFilter("maybe"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseReadFilter() error = %v, want ErrValidation", err)
	}
}

func TestFiltersValidate(t *testing.T) {
	t.Parallel()

	if err := (Filters{Type: "promo"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
	if err := (Filters{Limit: MaxLimit + 1}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
	if err := (Filters{Type: TypeProduct, Read: ReadOnly, Page: 2, Limit: 10}).Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
}
