package history

import "time"

// EventType represents the type of store event emitted.
type EventType string

// Store event type constants.
const (
	EventSessionUpserted EventType = "session.upserted"
	EventSessionDeleted  EventType = "session.deleted"
	EventFavoriteToggled EventType = "session.favorite_toggled"
	EventHistoryCleared  EventType = "history.cleared"
)

// Event represents a change inside the store that other views can react to.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer reacts to store events.
type Observer interface {
	HandleHistoryEvent(Event)
}

// ObserverFunc is a helper to turn a function into an Observer.
type ObserverFunc func(Event)

// HandleHistoryEvent implements the Observer interface.
func (f ObserverFunc) HandleHistoryEvent(e Event) {
	f(e)
}

// newEvent is a helper to build a store event.
func newEvent(eventType EventType, sessionID string) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
}
