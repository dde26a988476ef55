// Package pubsub provides a generic publish/subscribe event system used to
// observe registry changes, tree mutations and log output.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent   EventType = "created"
	UpdatedEvent   EventType = "updated"
	DeletedEvent   EventType = "deleted"
	ReplacedEvent  EventType = "replaced"
	MountedEvent   EventType = "mounted"
	UnmountedEvent EventType = "unmounted"
	FailedEvent    EventType = "failed"

	// TransitionEvent is published for every lifecycle state change.
	TransitionEvent EventType = "transition"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, types ...EventType) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
