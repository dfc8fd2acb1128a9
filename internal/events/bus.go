package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the gateway.
const (
	TypeSnapshot = "snapshot"
	TypeElapsed  = "elapsed"
	TypeClosed   = "closed"
)

// Event is one SSE frame's worth of data.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	MediaKey  string          `json:"media_key,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	SessionID string
	MediaKey  string
	Types     []string
}

// Bus provides pub-sub event distribution for SSE subscribers.
// It keeps a ring buffer for replay on reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates a bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events after lastEventID. If the id has
// already left the ring, every buffered matching event is returned so the
// client does not silently miss everything.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var all, after []Event
	found := lastEventID == ""
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		if e.ID == lastEventID {
			found = true
			after = after[:0]
			continue
		}
		if !matches(e, filter) {
			continue
		}
		all = append(all, e)
		after = append(after, e)
	}
	if found {
		return after
	}
	return all
}

// Data holds the fields needed to publish an event.
type Data struct {
	Type      string
	SessionID string
	MediaKey  string
	Payload   any
}

// Publish sends an event to matching subscribers and adds it to the ring.
// Slow subscribers miss events rather than block the publisher.
func (b *Bus) Publish(d Data) {
	data, err := json.Marshal(d.Payload)
	if err != nil {
		return
	}

	now := time.Now()
	seq := b.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Type:      d.Type,
		SessionID: d.SessionID,
		MediaKey:  d.MediaKey,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if matches(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	b.mu.RUnlock()
}

func matches(e Event, f Filter) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.MediaKey != "" && e.MediaKey != f.MediaKey {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if strings.TrimSpace(t) == e.Type {
			return true
		}
	}
	return false
}
