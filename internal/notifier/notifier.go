package notifier

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// EventKind names a payment request lifecycle event.
type EventKind string

const (
	RequestReceived  EventKind = "request.received"
	RequestAccepted  EventKind = "request.accepted"
	RequestDenied    EventKind = "request.denied"
	RequestExpired   EventKind = "request.expired"
	RequestCancelled EventKind = "request.cancelled"
)

// Event is what players (or an outside service) are told about a request.
type Event struct {
	Kind      EventKind `json:"kind"`
	RequestID uuid.UUID `json:"request_id"`
	Requester uuid.UUID `json:"requester"`
	Target    uuid.UUID `json:"target"`
	Currency  string    `json:"currency"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers events. Implementations must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// LogNotifier writes events to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, evt Event) {
	if evt.Reason != "" {
		log.Printf("[INFO] %s %s: %s -> %s %s %s (%s)", evt.Kind, evt.RequestID, evt.Target, evt.Requester, evt.Amount, evt.Currency, evt.Reason)
		return
	}
	log.Printf("[INFO] %s %s: %s -> %s %s %s", evt.Kind, evt.RequestID, evt.Target, evt.Requester, evt.Amount, evt.Currency)
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) {
	for _, n := range m {
		n.Notify(ctx, evt)
	}
}
