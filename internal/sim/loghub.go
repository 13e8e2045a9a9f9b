package sim

import "sync"

const subscriberBuffer = 128

// logHub fans a site's log lines out to its live stream subscribers. Lines
// published while nobody listens are gone, like the real stream.
type logHub struct {
	mu   sync.Mutex
	subs map[int]chan string
	next int
}

func newLogHub() *logHub {
	return &logHub{subs: make(map[int]chan string)}
}

// subscribe registers a listener and returns its channel with a cancel
// function that detaches it.
func (h *logHub) subscribe() (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan string, subscriberBuffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// publish delivers line to every subscriber, dropping it for any that have
// fallen behind.
func (h *logHub) publish(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

func (h *logHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
