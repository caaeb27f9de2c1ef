package events

import (
	"sync"

	"dework/core/types"
)

// Buffer collects events emitted while an operation is in flight. The node
// drains it after the state transaction commits and resets it when the
// transaction is discarded, so subscribers never observe rolled back changes.
type Buffer struct {
	mu      sync.Mutex
	pending []*types.Event
}

// Emit implements Emitter.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, payload.Clone())
	b.mu.Unlock()
}

// Drain returns the buffered events in emission order and empties the buffer.
func (b *Buffer) Drain() []*types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// Reset drops every buffered event.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
