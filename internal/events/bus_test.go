package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesOnlyMatchingKind(t *testing.T) {
	bus := NewBus(nil)

	var samples, completes int
	bus.Subscribe(GazeSample, func(Event) { samples++ })
	bus.Subscribe(CalibrationComplete, func(Event) { completes++ })

	bus.Publish(Event{Kind: GazeSample})
	bus.Publish(Event{Kind: GazeSample})
	bus.Publish(Event{Kind: CalibrationComplete})
	bus.Publish(Event{Kind: Initialized})

	assert.Equal(t, 2, samples)
	assert.Equal(t, 1, completes)
}

func TestSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []int
	bus.Subscribe(Initialized, func(Event) { order = append(order, 1) })
	bus.Subscribe(Initialized, func(Event) { order = append(order, 2) })
	bus.Subscribe(Initialized, func(Event) { order = append(order, 3) })

	bus.Publish(Event{Kind: Initialized})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var first, second int
	unsubscribe := bus.Subscribe(GazeSample, func(Event) { first++ })
	bus.Subscribe(GazeSample, func(Event) { second++ })

	bus.Publish(Event{Kind: GazeSample})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Kind: GazeSample})

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(nil)

	var reached bool
	bus.Subscribe(InitFailed, func(Event) { panic("boom") })
	bus.Subscribe(InitFailed, func(Event) { reached = true })

	assert.NotPanics(t, func() { bus.Publish(Event{Kind: InitFailed}) })
	assert.True(t, reached)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "calibration_target", CalibrationTarget.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
