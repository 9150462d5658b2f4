package bus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"ridesaga/internal/event"
	"ridesaga/internal/logging"
)

// MemoryBus dispatches events synchronously inside one process.
// Handler errors are logged and not redelivered.
type MemoryBus struct {
	mu       sync.RWMutex
	logger   logrus.FieldLogger
	handlers map[string][]Handler
	history  []event.Envelope
}

// NewMemoryBus creates a new MemoryBus.
func NewMemoryBus(logger logrus.FieldLogger) *MemoryBus {
	return &MemoryBus{
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a detail type.
func (b *MemoryBus) Subscribe(detailType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[detailType] = append(b.handlers[detailType], h)
}

// Publish records the event and runs every matching handler before returning.
func (b *MemoryBus) Publish(ctx context.Context, source string, d event.Detail) error {
	env, err := event.New(source, d)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.history = append(b.history, env)
	handlers := append([]Handler(nil), b.handlers[env.DetailType]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, env); err != nil {
			b.logger.WithError(err).WithField(logging.FieldDetailType, env.DetailType).Error("event handler failed")
		}
	}
	return nil
}

// Run blocks until ctx is cancelled. Delivery happens inside Publish.
func (b *MemoryBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// History returns a copy of every published envelope, oldest first.
func (b *MemoryBus) History() []event.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]event.Envelope(nil), b.history...)
}
