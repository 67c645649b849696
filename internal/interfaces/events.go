package interfaces

import (
	"context"
)

// EventType identifies a category of event
type EventType string

const (
	// EventJobProgress carries a *models.ProgressUpdate payload on every
	// status transition or counter change
	EventJobProgress EventType = "job_progress"
)

// Event represents a single published event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler processes an event
type EventHandler func(ctx context.Context, event Event) error

// EventService is the in-process pub/sub channel decoupling job-driving
// code from connection-handling code
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	// Publish delivers the event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error
	// PublishSync delivers the event and waits for all handlers to accept it.
	// Handlers are expected to hand off quickly; publishers use this when
	// per-caller emission order must be preserved.
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
