package async

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribeAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(10, nil)

	var got []Event
	id := bus.Subscribe(func(evt Event) { got = append(got, evt) })
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Broadcast(Event{Type: EventOperationStarted, OperationID: "op-1"})
	require.Len(t, got, 1)
	assert.Equal(t, EventOperationStarted, got[0].Type)
	assert.Equal(t, "op-1", got[0].OperationID)
	assert.False(t, got[0].Timestamp.IsZero(), "broadcast stamps events")

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id), "second unsubscribe is a no-op")
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Broadcast(Event{Type: EventOperationCompleted, OperationID: "op-1"})
	assert.Len(t, got, 1, "removed subscribers receive nothing")
}

func TestEventBus_PanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewEventBus(10, nil)

	bus.Subscribe(func(Event) { panic("subscriber bug") })
	var delivered int
	bus.Subscribe(func(Event) { delivered++ })

	assert.NotPanics(t, func() {
		bus.Broadcast(Event{Type: EventSystemStatusChanged})
		bus.Broadcast(Event{Type: EventSystemStatusChanged})
	})
	assert.Equal(t, 2, delivered)
}

func TestEventBus_RecentKeepsLatestOldestFirst(t *testing.T) {
	bus := NewEventBus(4, nil)

	for i := 1; i <= 6; i++ {
		bus.Broadcast(Event{Type: EventOperationStarted, OperationID: fmt.Sprintf("op-%d", i)})
	}

	ids := func(events []Event) []string {
		out := make([]string, 0, len(events))
		for _, evt := range events {
			out = append(out, evt.OperationID)
		}
		return out
	}

	// The ring holds the last four; zero asks for everything retained.
	assert.Equal(t, []string{"op-3", "op-4", "op-5", "op-6"}, ids(bus.Recent(0)))
	assert.Equal(t, []string{"op-5", "op-6"}, ids(bus.Recent(2)))
	assert.Equal(t, []string{"op-3", "op-4", "op-5", "op-6"}, ids(bus.Recent(99)))
}

func TestEventBus_RecentBeforeAnyBroadcast(t *testing.T) {
	bus := NewEventBus(4, nil)
	assert.Empty(t, bus.Recent(0))
	assert.Empty(t, bus.Recent(3))
}
