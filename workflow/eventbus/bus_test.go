package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_PublishIsSynchronousAndOrdered(t *testing.T) {
	bus := New(zap.NewNop())

	var got []string
	bus.Subscribe(EventStepUpdated, func(e Event) { got = append(got, "first:"+e.SessionID) })
	bus.Subscribe(EventStepUpdated, func(e Event) { got = append(got, "second:"+e.SessionID) })
	bus.Subscribe(EventWorkflowUpdated, func(e Event) { got = append(got, "other") })

	bus.Publish(Event{Type: EventStepUpdated, SessionID: "s1"})

	// 同步：Publish 返回时处理器已全部执行
	assert.Equal(t, []string{"first:s1", "second:s1"}, got)
}

func TestBus_AllEventsSubscriber(t *testing.T) {
	bus := New(nil)

	var types []EventType
	bus.Subscribe(AllEvents, func(e Event) { types = append(types, e.Type) })

	bus.Publish(Event{Type: EventSessionInitialized})
	bus.Publish(Event{Type: EventStepUpdated})

	assert.Equal(t, []EventType{EventSessionInitialized, EventStepUpdated}, types)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(nil)

	calls := 0
	id := bus.Subscribe(EventSessionLoaded, func(Event) { calls++ })
	require.Equal(t, 1, bus.SubscriberCount(EventSessionLoaded))

	bus.Unsubscribe(id)
	bus.Publish(Event{Type: EventSessionLoaded})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.SubscriberCount(EventSessionLoaded))
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := New(zap.NewNop())

	reached := false
	bus.Subscribe(EventWorkflowUpdated, func(Event) { panic("boom") })
	bus.Subscribe(EventWorkflowUpdated, func(Event) { reached = true })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: EventWorkflowUpdated})
	})
	assert.True(t, reached)
}

func TestBus_PublishStampsTimestamp(t *testing.T) {
	bus := New(nil)

	var ev Event
	bus.Subscribe(EventStepUpdated, func(e Event) { ev = e })
	bus.Publish(Event{Type: EventStepUpdated})

	assert.False(t, ev.Timestamp.IsZero())
}
