package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	bus := NewBus(16)
	sub := bus.Subscribe(ExecutionTopic("exec-1"))
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(ExecutionTopic("exec-1"), Event{
			Type: TypeNodeStarted, NodeID: fmt.Sprintf("n%d", i),
		})
	}
	for i := 0; i < 5; i++ {
		ev := <-sub.Events()
		assert.Equal(t, fmt.Sprintf("n%d", i), ev.NodeID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus(16)
	a := bus.Subscribe(ExecutionTopic("a"))
	defer a.Close()
	b := bus.Subscribe(ExecutionTopic("b"))
	defer b.Close()

	bus.Publish(ExecutionTopic("a"), Event{Type: TypeExecutionStarted})

	select {
	case <-a.Events():
	case <-time.After(time.Second):
		t.Fatal("subscriber a received nothing")
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("subscriber b received %v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe("topic")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish("topic", Event{NodeID: fmt.Sprintf("n%d", i)})
	}

	// Publishing never blocked; the buffer holds the newest two events.
	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, "n3", first.NodeID)
	assert.Equal(t, "n4", second.NodeID)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus(4)
	assert.NotPanics(t, func() {
		bus.Publish("nobody-listening", Event{Type: TypeExecutionCompleted})
	})
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe("topic")
	bus.Publish("topic", Event{NodeID: "before"})
	sub.Close()

	ev, ok := <-sub.Events()
	require.True(t, ok, "buffered event survives Close")
	assert.Equal(t, "before", ev.NodeID)
	_, ok = <-sub.Events()
	assert.False(t, ok, "channel closed after buffer drained")

	assert.NotPanics(t, func() { bus.Publish("topic", Event{NodeID: "after"}) })
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus(4)
	s1 := bus.Subscribe("topic")
	defer s1.Close()
	s2 := bus.Subscribe("topic")
	defer s2.Close()

	bus.Publish("topic", Event{NodeID: "n"})
	assert.Equal(t, "n", (<-s1.Events()).NodeID)
	assert.Equal(t, "n", (<-s2.Events()).NodeID)
}
