package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_EmitInvokesSubscribersInOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.On("server-listening", func(e Event) { order = append(order, "first") })
	bus.On("server-listening", func(e Event) { order = append(order, "second") })

	bus.Emit("server-listening", map[string]any{"addr": ":8080"})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_EmitPassesData(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.On("request-received", func(e Event) { received = e })

	bus.Emit("request-received", map[string]any{"requestId": "req-1"})

	assert.Equal(t, "request-received", received.Name)
	assert.Equal(t, "req-1", received.Data["requestId"])
}

func TestBus_EmitWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.Emit("nobody-listening", nil)
	})
}

func TestBus_EmitOnlyInvokesSubscribersToThatName(t *testing.T) {
	bus := NewBus()

	var calledWrongHandler bool
	bus.On("server-closed", func(e Event) { calledWrongHandler = true })

	bus.Emit("server-listening", nil)

	assert.False(t, calledWrongHandler)
}
