package vault

import (
	"sync"
	"time"
)

// Topic names an event stream on the bus.
type Topic string

const (
	// TopicWorldChanged carries world content changes (save, delete,
	// restore, import, merge).
	TopicWorldChanged Topic = "world_changed"
	// TopicPersistence carries persistence lifecycle notifications (backup,
	// sync, auto-save flush, recovery).
	TopicPersistence Topic = "persistence"
)

// Event is one bus notification. Events carry identifiers only, never
// mutable world state.
type Event struct {
	Topic   Topic
	WorldID string
	Kind    string
	At      time.Time
}

// Bus is an in-process publish/subscribe fanout. Publishing never blocks;
// a subscriber that falls behind loses events rather than stalling writers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]chan Event)}
}

// Subscribe registers a listener on a topic. The returned cancel removes the
// subscription and closes the channel. Buffer must be at least 1.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	subID := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	b.subs[topic][subID] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if listeners, ok := b.subs[topic]; ok {
				if _, live := listeners[subID]; live {
					delete(listeners, subID)
					close(ch)
				}
			}
		})
	}
	return ch, cancel
}

// Publish fans the event out to every listener on its topic.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.Topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, listeners := range b.subs {
		for subID, ch := range listeners {
			delete(listeners, subID)
			close(ch)
		}
	}
}
