package jobs

import (
	"context"
	"sync"
)

// Broadcaster fans a committed event out to every live subscriber. It never
// sees an event until the Store has already committed it — Manager always
// calls PersistEvent first and only then hands the row to Broadcast.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan *Event
	nextID      int
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan *Event)}
}

// Subscribe registers a new listener with a buffered channel; the returned
// cancel function must be called (typically via defer) to unregister it.
// The channel is closed by cancel, never by Broadcast.
func (b *Broadcaster) Subscribe(bufferSize int) (<-chan *Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan *Event, bufferSize)
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast fans ev out to every current subscriber. A subscriber whose
// buffer is full is skipped rather than blocking the committer — replay via
// EventsSince is how a slow reader catches back up.
func (b *Broadcaster) Broadcast(_ context.Context, ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
