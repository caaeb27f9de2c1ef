package state

import (
	"encoding/binary"
	"fmt"
	"sort"

	"dework/core/types"
)

var eventLogPrefix = []byte("events/")

const eventSequenceCounter = "events"

type eventAttribute struct {
	Key   string
	Value string
}

type eventRecord struct {
	Type       string
	Timestamp  uint64
	Attributes []eventAttribute
}

func eventKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return prefixed(eventLogPrefix, buf[:])
}

// AppendEvent assigns evt the next event sequence and writes it to the log in
// the same transaction, so sequences are gap free and survive restarts.
func (tx *Tx) AppendEvent(evt *types.Event) error {
	if evt == nil {
		return nil
	}
	if evt.Timestamp < 0 {
		return fmt.Errorf("state: negative event timestamp %d", evt.Timestamp)
	}
	seq, err := tx.NextSequence(eventSequenceCounter)
	if err != nil {
		return err
	}
	record := eventRecord{Type: evt.Type, Timestamp: uint64(evt.Timestamp)}
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.Attributes = append(record.Attributes, eventAttribute{Key: k, Value: evt.Attributes[k]})
	}
	if err := tx.KVPut(eventKey(seq), &record); err != nil {
		return err
	}
	evt.Sequence = seq
	return nil
}

// EventHead returns the sequence of the newest logged event, zero when empty.
func (tx *Tx) EventHead() (uint64, error) {
	return tx.Counter(eventSequenceCounter)
}

// LoggedEvent reads the event stored under seq.
func (tx *Tx) LoggedEvent(seq uint64) (*types.Event, bool, error) {
	var record eventRecord
	ok, err := tx.KVGet(eventKey(seq), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	evt := &types.Event{
		Sequence:   seq,
		Type:       record.Type,
		Timestamp:  int64(record.Timestamp),
		Attributes: make(map[string]string, len(record.Attributes)),
	}
	for _, attr := range record.Attributes {
		evt.Attributes[attr.Key] = attr.Value
	}
	return evt, true, nil
}

// EventsAfter returns up to limit logged events with sequence greater than
// after, oldest first.
func (tx *Tx) EventsAfter(after uint64, limit int) ([]*types.Event, error) {
	head, err := tx.EventHead()
	if err != nil {
		return nil, err
	}
	var out []*types.Event
	for seq := after + 1; seq <= head && len(out) < limit; seq++ {
		evt, ok, err := tx.LoggedEvent(seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: event %d missing from log", seq)
		}
		out = append(out, evt)
	}
	return out, nil
}
