package events

import (
	"sync"

	"go.uber.org/zap"
)

// Bus is a simple in-process event bus for domain events.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Register registers a handler for the events it handles.
func (b *Bus) Register(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, eventType := range handler.Handles() {
		b.handlers[eventType] = append(b.handlers[eventType], handler)
		b.logger.Debug("registered event handler",
			zap.String("event_type", eventType),
		)
	}
}

// Publish dispatches an event to all registered handlers synchronously,
// in registration order. If a handler fails, the error is logged and the
// remaining handlers still run.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.EventType()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers registered for event",
			zap.String("event_type", event.EventType()),
			zap.String("event_id", event.EventID().String()),
		)
		return
	}

	for _, handler := range handlers {
		if err := handler.Handle(event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.Error(err),
			)
		}
	}
}

// PublishAsync dispatches an event on its own goroutine so the caller's
// critical path never blocks on handlers.
func (b *Bus) PublishAsync(event Event) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Publish(event)
	}()
}

// Wait blocks until all in-flight async dispatches have finished.
// Used during graceful shutdown and in tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
