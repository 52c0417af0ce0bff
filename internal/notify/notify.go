// Package notify displays desktop notifications and reports when the user
// activates one.
package notify

import (
	"context"
	"errors"
)

// DefaultBody is shown when a notification carries no body.
const DefaultBody = "Countdown finished!"

// DataCountdownID is the Data key carrying the countdown id.
const DataCountdownID = "countdownId"

// ErrUnavailable is returned when the display backend cannot be reached.
var ErrUnavailable = errors.New("notification service unavailable")

// Options mirror the display options of a notification.
type Options struct {
	Body string
	// Tag groups notifications: a new one with the same tag replaces the
	// visible one instead of stacking.
	Tag                string
	RequireInteraction bool
	Data               map[string]string
}

// Notification is a displayed notification.
type Notification struct {
	ID      uint32
	Title   string
	Options Options
}

// Notifier is the display surface.
type Notifier interface {
	Show(ctx context.Context, title string, opts Options) (Notification, error)
	// QueryByTag returns the visible notifications carrying tag.
	QueryByTag(tag string) []Notification
	Close(ctx context.Context, n Notification) error
	// OnActivate registers the click handler. Later calls replace it.
	OnActivate(fn func(Notification))
}

// CloseByTag closes every visible notification carrying tag and returns
// how many were closed.
func CloseByTag(ctx context.Context, n Notifier, tag string) (int, error) {
	var errs []error
	closed := 0
	for _, item := range n.QueryByTag(tag) {
		if err := n.Close(ctx, item); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}
