// Package eventbus provides the synchronous in-process publish/subscribe bus
// used by the state manager to announce session and step changes.
package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventSessionInitialized EventType = "session:initialized"
	EventSessionLoaded      EventType = "session:loaded"
	EventWorkflowUpdated    EventType = "workflow:updated"
	EventStepUpdated        EventType = "step:updated"

	// AllEvents subscribes a handler to every event type.
	AllEvents EventType = "*"
)

// Event is one published notification. Payload is owned by the receiver;
// publishers must not hand out values they keep mutating.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler 事件处理器
type Handler func(Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous event bus: Publish returns after every matching handler
// ran, in subscription order. A panicking handler is logged and skipped.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscription
	seq      atomic.Int64
	logger   *zap.Logger
}

// New 创建新的事件总线
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[EventType][]subscription),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe 订阅事件，返回订阅 ID
func (b *Bus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("%s-%d", eventType, b.seq.Add(1))
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe 取消订阅
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.handlers {
		for i, s := range subs {
			if s.id != subscriptionID {
				continue
			}
			rest := make([]subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			if len(rest) == 0 {
				delete(b.handlers, eventType)
			} else {
				b.handlers[eventType] = rest
			}
			return
		}
	}
}

// Publish 同步发布事件
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[event.Type])+len(b.handlers[AllEvents]))
	subs = append(subs, b.handlers[event.Type]...)
	if event.Type != AllEvents {
		subs = append(subs, b.handlers[AllEvents]...)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(s, event)
	}
}

func (b *Bus) dispatch(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscription", s.id),
				zap.String("event", string(event.Type)),
				zap.Any("recover", r))
		}
	}()
	s.handler(event)
}

// SubscriberCount returns the number of handlers registered for eventType.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
