package hub

import (
	"context"
	"log/slog"
	"sync"
)

type envelope struct {
	topic string
	msg   Message
}

// Hub tracks subscribers per topic. All membership changes and deliveries
// happen on the Run goroutine.
type Hub struct {
	logger *slog.Logger

	topics map[string]map[*Client]struct{}

	publish    chan envelope
	register   chan *Client
	unregister chan *Client

	mu    sync.RWMutex
	count int
	done  chan struct{}
}

// New creates a hub. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		topics:     make(map[string]map[*Client]struct{}),
		publish:    make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run delivers messages until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for topic, clients := range h.topics {
				for c := range clients {
					close(c.send)
				}
				delete(h.topics, topic)
			}
			h.setCount(0)
			return

		case c := <-h.register:
			clients := h.topics[c.topic]
			if clients == nil {
				clients = make(map[*Client]struct{})
				h.topics[c.topic] = clients
			}
			clients[c] = struct{}{}
			n := h.addCount(1)
			h.logger.Debug("client subscribed", "topic", c.topic, "clients", n)

		case c := <-h.unregister:
			h.drop(c)

		case env := <-h.publish:
			for c := range h.topics[env.topic] {
				select {
				case c.send <- env.msg:
				default:
					h.logger.Warn("dropping slow client", "topic", env.topic)
					h.drop(c)
				}
			}
		}
	}
}

// drop must run on the Run goroutine.
func (h *Hub) drop(c *Client) {
	clients, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.topics, c.topic)
	}
	n := h.addCount(-1)
	h.logger.Debug("client left", "topic", c.topic, "clients", n)
}

// Publish queues msg for topic's subscribers. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Publish(topic string, msg Message) {
	select {
	case h.publish <- envelope{topic: topic, msg: msg}:
	default:
		h.logger.Warn("publish queue full, dropping message", "topic", topic)
	}
}

// PublishJSON encodes v and publishes it to topic.
func (h *Hub) PublishJSON(topic string, v any) error {
	msg, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	h.Publish(topic, msg)
	return nil
}

// ClientCount returns the number of subscribed clients across all topics.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) addCount(d int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count += d
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
