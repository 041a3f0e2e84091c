package bus

import "sync"

// InboundPost is a message landing in a channel from outside, relayed
// by the gateway on behalf of a person.
type InboundPost struct {
	Channel    string `json:"channel"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
}

// Event is a server-side event to broadcast to connected clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventPublisher fans events out to subscribers.
type EventPublisher interface {
	Subscribe(id string, fn func(Event))
	Unsubscribe(id string)
	Publish(event Event)
}

// EventBus is an in-process EventPublisher. Safe for concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]func(Event)
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]func(Event))}
}

func (b *EventBus) Subscribe(id string, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = fn
}

func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
