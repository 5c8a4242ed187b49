// Package selection picks the handful of notifications shown in the header
// dropdown.
package selection

import (
	"github.com/kursadbilgin/notification-sync/internal/domain"
)

const DefaultPreviewLimit = 5

// Preview returns the n newest unread notifications, or the n newest read
// ones when nothing is unread. Read and unread items are never mixed.
func Preview(items []domain.Notification, n int) []domain.Notification {
	if n <= 0 {
		n = DefaultPreviewLimit
	}

	unread := make([]domain.Notification, 0, len(items))
	read := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		if item.Read {
			read = append(read, item.Clone())
		} else {
			unread = append(unread, item.Clone())
		}
	}

	pick := unread
	if len(pick) == 0 {
		pick = read
	}
	domain.SortByCreatedAtDesc(pick)

	if len(pick) > n {
		pick = pick[:n]
	}
	return pick
}
