package notification

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Subscription receives the notifications published for one recipient.
type Subscription struct {
	recipient string
	ch        chan *Notification
	once      sync.Once
}

// C is closed when the subscription is cancelled.
func (s *Subscription) C() <-chan *Notification {
	return s.ch
}

// Hub fans notifications out to the subscribers of their recipient.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

func (h *Hub) Subscribe(recipient string) *Subscription {
	sub := &Subscription{recipient: recipient, ch: make(chan *Notification, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[recipient]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[recipient] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.recipient]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.recipient)
		}
	}
	h.mu.Unlock()

	sub.once.Do(func() { close(sub.ch) })
}

// Publish delivers n to every subscriber of its recipient without blocking.
// Subscribers whose buffer is full miss the message.
func (h *Hub) Publish(n *Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[n.Recipient] {
		select {
		case sub.ch <- n.Clone():
			delivered++
		default:
			h.logger.Warn("Notification subscriber is full, dropping message", "recipient", n.Recipient, "id", n.ID)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for recipient.
func (h *Hub) Subscribers(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[recipient])
}
