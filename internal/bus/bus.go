// Package bus is the in-process change notification fan-out. Every write
// performed by the sync engine or the webhook dispatcher is announced here
// so push-stream consumers can follow synced data in real time.
package bus

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Kind identifies the shape of an Operation.
type Kind string

const (
	// KindRow announces a created or updated row snapshot.
	KindRow Kind = "row"
	// KindObject announces a created or updated singleton object snapshot.
	KindObject Kind = "object"
	// KindTable announces that a table sync pass completed, whether or not
	// any row changed.
	KindTable Kind = "table"
	// KindPing is delivered to every new subscriber before any real event.
	KindPing Kind = "ping"
)

// Operation is an ephemeral change notification. It only ever exists as a
// message on the bus; nothing persists or replays it.
type Operation struct {
	Kind       Kind            `json:"type"`
	DatasetID  uuid.UUID       `json:"datasetId,omitzero"`
	TableID    uuid.UUID       `json:"tableId,omitzero"`
	ObjectType string          `json:"objectType,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Listener receives operations synchronously on the emitting goroutine.
// Listeners that need to block must hand off to their own channel.
type Listener func(Operation)

type subscriber struct {
	id int
	fn Listener
}

// Bus broadcasts operations to currently-registered listeners in
// registration order. It is explicitly constructed and passed down; there
// is no package-level instance, so independent test runs cannot leak
// listeners into each other.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

func New() *Bus {
	return &Bus{}
}

// Subscription detaches a listener from the bus.
type Subscription struct {
	bus *Bus
	id  int
}

// Subscribe registers fn and immediately delivers one ping operation so
// the consumer can confirm liveness before the first real event. Events
// emitted before Subscribe are never replayed.
func (b *Bus) Subscribe(fn Listener) *Subscription {
	if fn == nil {
		return &Subscription{}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	fn(Operation{Kind: KindPing})
	return &Subscription{bus: b, id: id}
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	b := s.bus
	b.mu.Lock()
	for i, sub := range b.subs {
		if sub.id == s.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	s.bus = nil
}

// Emit synchronously notifies all currently-registered listeners in
// registration order. There is no buffering: a listener registered after
// an emission never sees it.
func (b *Bus) Emit(op Operation) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fn(op)
	}
}

// ListenerCount reports the number of attached listeners.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
