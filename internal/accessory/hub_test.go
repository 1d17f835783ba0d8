package accessory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

func TestHub_LateSubscriberGetsLastState(t *testing.T) {
	h := NewHub()
	h.Observe(model.State{AirTemp: 70})

	ch, cancel := h.Subscribe()
	defer cancel()
	assert.Equal(t, 70.0, (<-ch).AirTemp)
}

func TestHub_SlowSubscriberSeesNewest(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		h.Observe(model.State{AirTemp: float64(i)})
	}
	assert.Equal(t, 5.0, (<-ch).AirTemp)
	assert.Empty(t, ch)
}

func TestHub_Cancel(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	assert.NotPanics(t, func() { h.Observe(model.State{}) })
}
