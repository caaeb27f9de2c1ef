package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dework/core/types"
)

func TestBufferDrainAndReset(t *testing.T) {
	var buf Buffer
	buf.Emit(Record{Evt: &types.Event{Type: "a"}})
	buf.Emit(Record{Evt: &types.Event{Type: "b"}})
	buf.Emit(Record{})
	require.Equal(t, 2, buf.Len())

	drained := buf.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, "a", drained[0].Type)
	require.Equal(t, 0, buf.Len())

	buf.Emit(Record{Evt: &types.Event{Type: "c"}})
	buf.Reset()
	require.Empty(t, buf.Drain())
}

func TestBroadcasterSequencesAndDrops(t *testing.T) {
	b := NewBroadcaster()
	fast, cancelFast := b.Subscribe(4)
	defer cancelFast()
	slow, cancelSlow := b.Subscribe(1)

	b.Publish(&types.Event{Type: "one"}, &types.Event{Type: "two"})

	first := <-fast
	second := <-fast
	require.Equal(t, uint64(1), first.Sequence)
	require.Equal(t, uint64(2), second.Sequence)

	got := <-slow
	require.Equal(t, "one", got.Type)
	require.Equal(t, uint64(1), b.Dropped())

	cancelSlow()
	cancelSlow()
	require.Equal(t, 1, b.Subscribers())
	_, open := <-slow
	require.False(t, open)
}

func TestBroadcasterKeepsAssignedSequences(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(&types.Event{Type: "logged", Sequence: 41})
	b.Publish(&types.Event{Type: "local"})

	require.Equal(t, uint64(41), (<-ch).Sequence)
	require.Equal(t, uint64(42), (<-ch).Sequence)
}
