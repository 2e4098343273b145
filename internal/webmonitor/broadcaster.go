package webmonitor

import (
	"sync"

	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/internal/metrics"
)

// Broadcaster fans values out to subscribers. Broadcast never blocks: a
// subscriber whose buffer is full misses that value.
type Broadcaster[T any] struct {
	name    string
	buffer  int
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to buffer values.
func NewBroadcaster[T any](name string, buffer int, m *metrics.Metrics) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 2
	}
	return &Broadcaster[T]{
		name:    name,
		buffer:  buffer,
		metrics: m,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a new client and returns its id and receive channel.
// The channel is closed by Unsubscribe or Close.
func (b *Broadcaster[T]) Subscribe() (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch
	if b.metrics != nil {
		b.metrics.Subscribers.Add(1)
	}

	logger.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		if b.metrics != nil {
			b.metrics.Subscribers.Add(-1)
		}
		logger.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of subscribers.
func (b *Broadcaster[T]) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast offers v to every subscriber and returns how many missed it.
func (b *Broadcaster[T]) Broadcast(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, ch := range b.clients {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.metrics != nil {
		b.metrics.SubscriberDrops.Add(uint64(dropped))
	}
	return dropped
}

// Close disconnects every subscriber. Later subscribers get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
		if b.metrics != nil {
			b.metrics.Subscribers.Add(-1)
		}
	}
}

// SerializedEvent holds one event pre-serialized in both wire formats, so
// each subscriber gets bytes without re-encoding.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 protobuf, nil when the event has no protobuf form
}

// Data returns the bytes for the requested format, falling back to JSON.
func (e *SerializedEvent) Data(useProtobuf bool) []byte {
	if useProtobuf && e.ProtobufData != nil {
		return e.ProtobufData
	}
	return e.JSONData
}
