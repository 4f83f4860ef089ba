package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ceer-lab/ceer/internal/domain"
)

// Publisher pushes a payload to every live connection of a user.
type Publisher interface {
	Publish(userID string, payload []byte)
}

// StreamSink forwards notifications to the recipient's live WebSocket and SSE
// connections. Offline recipients simply miss the live copy.
type StreamSink struct {
	hub Publisher
}

// NewStreamSink wraps hub.
func NewStreamSink(hub Publisher) StreamSink {
	return StreamSink{hub: hub}
}

// Notify implements Notifier.
func (s StreamSink) Notify(_ context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrUndeliverable, err)
	}
	s.hub.Publish(n.Recipient.ID, payload)
	return nil
}
