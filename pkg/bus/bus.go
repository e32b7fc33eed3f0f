// Package bus provides the change-notification fabric between views of the
// history store. It supports publish/subscribe with subject wildcards; views
// treat any signal as "re-read everything" rather than diffing payloads.
// The in-memory implementation covers a single process, with a NATS option
// for cross-process deployments.
package bus

import (
	"context"
	"errors"
)

// Subjects published by the relay.
const (
	// SubjectHistoryChanged signals that the persisted history was written,
	// by this process or another one.
	SubjectHistoryChanged = "relay.history.changed"

	// SubjectFilterChanged signals an in-process filter toggle issued by a
	// sibling view.
	SubjectFilterChanged = "relay.history.filter"

	// SubjectSessionPrefix is the prefix for session lifecycle signals.
	SubjectSessionPrefix = "relay.session."
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is the notification fabric. Implementations must be safe for
// concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The handler is called in a separate goroutine for each message.
	// Supports wildcards: "relay.history.*" matches "relay.history.changed".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}
