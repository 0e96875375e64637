package loader

import (
	"sync"
	"time"
)

// EventType classifies load lifecycle events.
type EventType string

const (
	EventStarted   EventType = "started"
	EventHit       EventType = "hit"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event describes one load lifecycle transition.
type Event struct {
	Type   EventType `json:"type"`
	URL    string    `json:"url"`
	Handle string    `json:"handle,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Feed fans loader events out to subscribers. Delivery is best-effort: a
// subscriber that falls behind its buffer drops events rather than
// stalling loads.
type Feed struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewFeed creates an event feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber. The returned cancel func must be
// called to release the subscription; the channel is closed by it.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish sends ev to all current subscribers without blocking.
func (f *Feed) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
