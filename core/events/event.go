package events

import "dework/core/types"

// Event represents a structured state change emitted by the node.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. websocket, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record adapts a plain *types.Event to the Event interface.
type Record struct {
	Evt *types.Event
}

// EventType implements Event.
func (r Record) EventType() string {
	if r.Evt == nil {
		return ""
	}
	return r.Evt.Type
}

// Event implements Event.
func (r Record) Event() *types.Event { return r.Evt }
