// Package livefeed pushes sample and order status changes to connected
// WebSocket clients. Clients subscribe to topics; a change is delivered to
// the order's own topic and to the lab-wide topic.
package livefeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LabTopic receives every event.
const LabTopic = "lab"

// OrderTopic is the per-order topic name.
func OrderTopic(orderID string) string { return "orders/" + orderID }

// Event is one status change as seen by a subscriber.
type Event struct {
	Type         string    `json:"type"`
	OrderID      string    `json:"order_id"`
	SampleID     string    `json:"sample_id,omitempty"`
	SampleStatus string    `json:"sample_status,omitempty"`
	OrderStatus  string    `json:"order_status,omitempty"`
	At           time.Time `json:"at"`
}

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is what the lifecycle engine depends on. Delivery is best-effort
// and never fails the caller's operation.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Client is one connected subscriber.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	dropped int
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	c.Topics = newTopics(nil, c.Topics)
	h.subscribeLocked(c, c.Topics)
}

// Unregister drops every subscription and closes c.Send. Calling it twice is
// a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	h.removeLocked(c, c.Topics)
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	added := newTopics(c.Topics, topics)
	h.subscribeLocked(c, added)
	c.Topics = append(c.Topics, added...)
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, topics)
	remaining := c.Topics[:0]
	for _, t := range c.Topics {
		if !hasTopic(topics, t) {
			remaining = append(remaining, t)
		}
	}
	c.Topics = remaining
}

func (h *Hub) subscribeLocked(c *Client, topics []string) {
	for _, t := range topics {
		if h.clients[t] == nil {
			h.clients[t] = make(map[*Client]struct{})
		}
		h.clients[t][c] = struct{}{}
	}
}

func (h *Hub) removeLocked(c *Client, topics []string) {
	for _, t := range topics {
		if subs, ok := h.clients[t]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.clients, t)
			}
		}
	}
}

// newTopics returns the non-empty topics not already in have, each once.
func newTopics(have, topics []string) []string {
	var out []string
	for _, t := range topics {
		if t != "" && !hasTopic(have, t) && !hasTopic(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func hasTopic(topics []string, t string) bool {
	for _, x := range topics {
		if x == t {
			return true
		}
	}
	return false
}

// Handle applies a ClientMessage. Unknown actions are ignored.
func (h *Hub) Handle(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Publish delivers e to subscribers of its order topic and of LabTopic. A
// client subscribed to both receives it once. Slow clients whose buffer is
// full miss the event.
func (h *Hub) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[*Client]struct{})
	for _, topic := range []string{OrderTopic(e.OrderID), LabTopic} {
		for c := range h.clients[topic] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.Send <- data:
			default:
				h.dropped++
				h.logger.Warn().Str("client_id", c.ID).Str("order_id", e.OrderID).Msg("live feed client buffer full, event dropped")
			}
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Dropped returns the number of events skipped for full client buffers.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
