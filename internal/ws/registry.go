package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/events"
	"github.com/example/menu-sync/internal/types"
)

// Registry tracks live connections keyed by collection topic
// ("<kind>:<parent>") so change events reach every watcher.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[*Connection]struct{}
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{topics: make(map[string]map[*Connection]struct{}), logger: logger}
}

// Register attaches the connection to each of its topics.
func (r *Registry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range c.topics {
		if r.topics[topic] == nil {
			r.topics[topic] = make(map[*Connection]struct{})
		}
		r.topics[topic][c] = struct{}{}
	}
	gatewayConnections.Inc()
}

// Unregister detaches the connection from every topic.
func (r *Registry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range c.topics {
		conns := r.topics[topic]
		if conns == nil {
			continue
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.topics, topic)
		}
	}
	gatewayConnections.Dec()
}

// Watchers reports how many connections watch topic.
func (r *Registry) Watchers(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Broadcast delivers payload to every connection watching topic and returns
// the number of successful enqueues.
func (r *Registry) Broadcast(topic string, payload []byte) int {
	r.mu.RLock()
	conns := r.topics[topic]
	if len(conns) == 0 {
		r.mu.RUnlock()
		return 0
	}
	recipients := make([]*Connection, 0, len(conns))
	for c := range conns {
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range recipients {
		if err := conn.SendBinary(payload); err == nil {
			sent++
		}
	}
	return sent
}

// Deliver implements events.Sink.
func (r *Registry) Deliver(ev types.ChangeEvent) {
	topic := ev.Collection().String()
	if r.Watchers(topic) == 0 {
		return
	}
	frame, err := events.Encode(ev)
	if err != nil {
		r.logger.Warn().Err(err).Str("topic", topic).Msg("failed to encode change event")
		return
	}
	r.Broadcast(topic, frame)
}

// CloseAll tells every registered watcher the server is going away.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	seen := make(map[*Connection]struct{})
	for _, conns := range r.topics {
		for c := range conns {
			seen[c] = struct{}{}
		}
	}
	r.mu.RUnlock()

	for c := range seen {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}
}
