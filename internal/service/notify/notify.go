package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceer-lab/ceer/internal/domain"
)

// ErrUndeliverable marks a notification a sink can never deliver, such as a
// recipient without an email address. The dispatcher does not retry it.
var ErrUndeliverable = errors.New("notification undeliverable")

// Notifier delivers a single notification. Implementations may block and may fail;
// the Dispatcher owns retries.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n domain.Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n domain.Notification) error {
	return f(ctx, n)
}

// Sink is a named delivery channel. The name labels metrics and logs.
type Sink struct {
	Name     string
	Notifier Notifier
}

// Multi delivers to every notifier in order and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for i, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Subject returns the human-readable headline for a notification kind.
func Subject(kind domain.NotificationKind) string {
	switch kind {
	case domain.NotifyBOMCreated:
		return "New BOM submitted for your review"
	case domain.NotifyBOMGuideApproved:
		return "Your BOM was approved by your guide"
	case domain.NotifyBOMAwaitingReview:
		return "Guide-approved BOM awaiting lab review"
	case domain.NotifyBOMLabInchargeApproved:
		return "Your BOM was approved by the lab incharge"
	case domain.NotifyBOMGuideRejected:
		return "Your BOM was rejected by your guide"
	case domain.NotifyBOMLabInchargeRejected:
		return "Your BOM was rejected by the lab incharge"
	default:
		return "CEER lab notification"
	}
}
