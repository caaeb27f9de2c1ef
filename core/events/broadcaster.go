package events

import (
	"sync"
	"sync/atomic"

	"dework/core/types"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans committed events out to subscribers. Delivery is
// non-blocking: a subscriber whose channel is full misses the event and the
// drop is counted. Consumers that must see every event replay the node's
// event log instead.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	seq     uint64
	dropped atomic.Uint64
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan *types.Event)}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription; it closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan *types.Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the events to every subscriber. Events without a sequence
// get the next local one; sequences assigned by the node's event log are kept.
func (b *Broadcaster) Publish(evts ...*types.Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		if evt.Sequence == 0 {
			b.seq++
			evt.Sequence = b.seq
		} else {
			b.seq = max(b.seq, evt.Sequence)
		}
		for _, ch := range b.subs {
			select {
			case ch <- evt.Clone():
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Emit implements Emitter so the broadcaster can be used directly outside of a
// transactional context.
func (b *Broadcaster) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.Publish(evt.Event().Clone())
}

// Dropped reports how many deliveries were skipped because a subscriber was slow.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
