package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"rssreader/internal/view"
)

const defaultClientBuffer = 256

// Broadcaster fans propagated changes out to connected clients. A client
// whose buffer is full is disconnected rather than skipped, so no client
// ever sees a stream with gaps.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[string]chan view.Change
	buffer  int
	closed  bool
	log     *slog.Logger
}

// NewBroadcaster returns a Broadcaster giving each client buffer slots.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[string]chan view.Change),
		buffer:  buffer,
		log:     logger.With("component", "broadcaster"),
	}
}

// AddClient registers a client. The channel is closed when the client is
// removed, dropped for falling behind, or the broadcaster shuts down.
func (b *Broadcaster) AddClient() (string, <-chan view.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := uuid.NewString()
	ch := make(chan view.Change, b.buffer)
	if b.closed {
		close(ch)
		return key, ch
	}
	b.clients[key] = ch
	b.log.Info("client connected", "client", key, "count", len(b.clients))
	return key, ch
}

// RemoveClient unregisters key. Removing an unknown key does nothing.
func (b *Broadcaster) RemoveClient(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[key]; ok {
		close(ch)
		delete(b.clients, key)
		b.log.Info("client disconnected", "client", key, "count", len(b.clients))
	}
}

// Broadcast queues change for every client without blocking.
func (b *Broadcaster) Broadcast(change view.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, ch := range b.clients {
		select {
		case ch <- change:
		default:
			close(ch)
			delete(b.clients, key)
			b.log.Warn("client channel full, dropping client", "client", key, "seq", change.Seq)
		}
	}
}

// Clients reports how many clients are connected.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Shutdown disconnects every client and rejects new ones.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, ch := range b.clients {
		close(ch)
		delete(b.clients, key)
	}
	b.log.Info("broadcaster shut down")
}
