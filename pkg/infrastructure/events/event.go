package events

import (
	"time"
)

// Event is a fact published by the scheduling core
type Event interface {
	Type() string
	StreamID() string
	Data() any
	// Timestamp is the simulation tick the event refers to, not wall time
	Timestamp() time.Time
	Version() int
}

type EventHandler interface {
	Handle(event Event) error
	CanHandle(eventType string) bool
}

type EventStore interface {
	AppendEvent(streamID string, event Event) error
	ReadAllEvents(fromPosition int) ([]Event, error)
	Subscribe(eventTypes []string, handler EventHandler) error
	Unsubscribe(handler EventHandler) error
}

type BaseEvent struct {
	EventType    string
	Stream       string
	EventData    any
	EventTime    time.Time
	EventVersion int
}

func (e BaseEvent) Type() string {
	return e.EventType
}

func (e BaseEvent) StreamID() string {
	return e.Stream
}

func (e BaseEvent) Data() any {
	return e.EventData
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func (e BaseEvent) Version() int {
	return e.EventVersion
}

// NewEvent creates an event stamped with the simulation tick at
func NewEvent(eventType, streamID string, data any, at time.Time) Event {
	return BaseEvent{
		EventType:    eventType,
		Stream:       streamID,
		EventData:    data,
		EventTime:    at,
		EventVersion: 1,
	}
}

// Publish appends to store when one is configured. Scheduling services treat
// the event store as optional.
func Publish(store EventStore, event Event) error {
	if store == nil {
		return nil
	}
	return store.AppendEvent(event.StreamID(), event)
}
