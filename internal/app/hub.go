package app

import (
	"sync"

	"training-sync-service/internal/domain"
)

// hub fans replaced states out to stream subscribers of this process.
type hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.PresentationState]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[chan domain.PresentationState]struct{})}
}

func (h *hub) subscribe(code string, initial domain.PresentationState) (<-chan domain.PresentationState, func()) {
	ch := make(chan domain.PresentationState, 8)

	h.mu.Lock()
	set, ok := h.subscribers[code]
	if !ok {
		set = make(map[chan domain.PresentationState]struct{})
		h.subscribers[code] = set
	}
	set[ch] = struct{}{}
	// queued under the lock so no publish can overtake the initial state
	ch <- initial
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set, ok := h.subscribers[code]
		if !ok {
			return
		}
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subscribers, code)
		}
	}
	return ch, cancel
}

func (h *hub) publish(code string, state domain.PresentationState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[code] {
		select {
		case ch <- state.Clone():
		default:
			// slow subscriber: drop the oldest queued state, keep the newest
			select {
			case <-ch:
			default:
			}
			ch <- state.Clone()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for code, set := range h.subscribers {
		for ch := range set {
			close(ch)
		}
		delete(h.subscribers, code)
	}
}
