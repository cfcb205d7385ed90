package events

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
)

// Broadcaster fans out serialized events to SSE subscribers.
// Slow subscribers miss events instead of blocking the publisher.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	buffer  int
	closed  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to buffer events
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster{
		clients: make(map[int]chan *SerializedEvent),
		buffer:  buffer,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
// The channel is closed on Unsubscribe or Close.
func (b *Broadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug("Events", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("Events", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Publish serializes ev once and sends it to every subscriber
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	n := len(b.clients)
	b.mu.Unlock()
	if n == 0 {
		return
	}

	se, err := Serialize(ev)
	if err != nil {
		logger.Error("Events", "Serialize failed: %v", err)
		return
	}
	b.broadcast(se)
}

func (b *Broadcaster) broadcast(se *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published.Add(1)
	for _, ch := range b.clients {
		select {
		case ch <- se:
		default:
			b.dropped.Add(1)
		}
	}
}

// Clients returns the number of subscribers
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Stats returns the number of published events and per-client drops
func (b *Broadcaster) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Close disconnects all subscribers
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// ServeHTTP streams events as server-sent events. Clients sending an Accept
// header with application/protobuf receive the base64 protobuf form.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, eventCh := b.Subscribe()
	defer b.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}

			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
				logger.Debug("Events", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
