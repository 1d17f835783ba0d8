package accessory

import (
	"sync"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

// Hub fans every published state out to subscribers. A slow subscriber only ever sees the
// newest state it has not consumed yet.
type Hub struct {
	mu   sync.Mutex
	subs map[chan model.State]struct{}
	last *model.State
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan model.State]struct{})}
}

func (h *Hub) Observe(state model.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &state
	for ch := range h.subs {
		select {
		case ch <- state:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}

// Subscribe returns a channel primed with the last state, if any, and a cancel func.
func (h *Hub) Subscribe() (<-chan model.State, func()) {
	ch := make(chan model.State, 1)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	if h.last != nil {
		ch <- *h.last
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
