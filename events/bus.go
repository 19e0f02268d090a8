package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	TypeRequestQueued    Type = "request.queued"
	TypeRequestRequeued  Type = "request.requeued"
	TypeRequestResolved  Type = "request.resolved"
	TypeRequestFailed    Type = "request.failed"
	TypeCircuitChanged   Type = "circuit.changed"
	TypeWorkflowStarted  Type = "workflow.started"
	TypeWorkflowAdvanced Type = "workflow.advanced"
	TypeWorkflowFailed   Type = "workflow.failed"
)

// Event is one fire-and-forget notification.
type Event struct {
	Type   Type           `json:"type"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// New builds an event stamped with the current time.
func New(t Type, fields map[string]any) Event {
	return Event{Type: t, At: time.Now(), Fields: fields}
}

// Bus fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full, the event is dropped for that subscriber.
// A nil *Bus is valid and drops everything, so components can carry an
// optional bus without nil checks at every publish site.
type Bus struct {
	buffer int

	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	dropped int64
}

// NewBus creates a bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int) *Bus {
	// Apply defaults
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped++
		}
	}
}

// Dropped reports how many events were dropped due to full buffers.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
