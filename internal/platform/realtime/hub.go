// Package realtime pushes workflow events to websocket subscribers. Clients
// subscribe to topics such as "appointment:APT-1234", "order:ORD-1" or
// "user:{userId}".
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is the message delivered to subscribers.
type Event struct {
	Type        string          `json:"type"`
	Topic       string          `json:"topic"`
	Aggregate   string          `json:"aggregate"`
	AggregateID string          `json:"aggregateId"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Topic helpers.
func AppointmentTopic(id string) string { return "appointment:" + id }
func OrderTopic(id string) string       { return "order:" + id }
func UserTopic(id string) string        { return "user:" + id }

const authorizeTimeout = 3 * time.Second

// Client is one websocket connection.
type Client struct {
	ID     string
	UserID string
	Roles  []string
	Admin  bool
	Topics []string
	Send   chan []byte
}

// Authorizer reports whether a non-admin client may follow an entity topic
// such as "appointment:APT-0042". It runs outside the hub lock.
type Authorizer func(ctx context.Context, client *Client, topic string) bool

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{}
	all       map[*Client]struct{}
	authorize Authorizer
	logger    zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// WithAuthorizer sets the ownership check for entity topics. Without one,
// only admins may follow them.
func (h *Hub) WithAuthorizer(a Authorizer) *Hub {
	h.authorize = a
	return h
}

func isEntityTopic(topic string) bool {
	return strings.HasPrefix(topic, "appointment:") || strings.HasPrefix(topic, "order:")
}

// CanSubscribe is the ownership-free part of the policy: a client always
// sees its own user topic and admins see everything.
func CanSubscribe(client *Client, topic string) bool {
	switch {
	case client.Admin:
		return strings.HasPrefix(topic, "user:") || isEntityTopic(topic)
	case strings.HasPrefix(topic, "user:"):
		return topic == UserTopic(client.UserID)
	default:
		return false
	}
}

// permitted filters topics down to those client may follow.
func (h *Hub) permitted(client *Client, topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		ok := CanSubscribe(client, topic)
		if !ok && isEntityTopic(topic) && h.authorize != nil {
			ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
			ok = h.authorize(ctx, client, topic)
			cancel()
		}
		if !ok {
			h.logger.Debug().Str("client_id", client.ID).Str("topic", topic).Msg("subscription denied")
			continue
		}
		out = append(out, topic)
	}
	return out
}

// Register adds client and subscribes it to its initial permitted topics.
func (h *Hub) Register(client *Client) {
	topics := h.permitted(client, client.Topics)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	client.Topics = nil
	h.subscribeLocked(client, topics)
}

// Unregister removes client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.unsubscribeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	topics = h.permitted(client, topics)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.subscribeLocked(client, topics)
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.clients[topic][client]; dup {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
}

func (h *Hub) unsubscribeLocked(client *Client, topics []string) {
	remove := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		remove[topic] = struct{}{}
		if subs, ok := h.clients[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := remove[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage applies a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends event to every subscriber of topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	event.Topic = topic
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal realtime event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
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
