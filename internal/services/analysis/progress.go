package analysis

import (
	"sync"

	"github.com/google/uuid"

	"finanalyst/internal/crew"
)

const subscriberBuffer = 32

type runFeed struct {
	history []crew.Event
	subs    map[chan crew.Event]struct{}
}

// ProgressHub fans crew progress events out to subscribers of a run.
// Subscribers joining mid-run first receive the events they missed.
type ProgressHub struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*runFeed
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{runs: make(map[uuid.UUID]*runFeed)}
}

// Start marks a run as active.
func (h *ProgressHub) Start(runID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.runs[runID]; !ok {
		h.runs[runID] = &runFeed{subs: make(map[chan crew.Event]struct{})}
	}
}

// Publish delivers e to every subscriber of its run. Slow subscribers lose
// events rather than stall the crew.
func (h *ProgressHub) Publish(e crew.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.runs[e.RunID]
	if !ok {
		return
	}
	feed.history = append(feed.history, e)
	for ch := range feed.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of the run's events, closed when the run
// ends. ok is false when the run is not active in this process.
func (h *ProgressHub) Subscribe(runID uuid.UUID) (events <-chan crew.Event, cancel func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.runs[runID]
	if !ok {
		return nil, func() {}, false
	}

	ch := make(chan crew.Event, subscriberBuffer+len(feed.history))
	for _, e := range feed.history {
		ch <- e
	}
	feed.subs[ch] = struct{}{}

	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if feed, ok := h.runs[runID]; ok {
			if _, ok := feed.subs[ch]; ok {
				delete(feed.subs, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, true
}

// Close ends the run's feed and closes every subscriber channel.
func (h *ProgressHub) Close(runID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.runs[runID]
	if !ok {
		return
	}
	for ch := range feed.subs {
		close(ch)
	}
	delete(h.runs, runID)
}

// Active returns the number of runs in progress.
func (h *ProgressHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}
