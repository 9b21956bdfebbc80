package service

import (
	"context"
	"sync"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventDispatcher routes emitted events to the stream when it is connected
// and to the local queue otherwise
type EventDispatcher struct {
	messaging service.MessagingService
	local     service.EventEmitter
	source    string
	logger    *logger.Logger
}

var _ service.EventEmitter = (*EventDispatcher)(nil)

// NewEventDispatcher creates a dispatcher. messaging may be nil.
func NewEventDispatcher(messaging service.MessagingService, local service.EventEmitter, source string, logger *logger.Logger) *EventDispatcher {
	return &EventDispatcher{
		messaging: messaging,
		local:     local,
		source:    source,
		logger:    logger.WithComponent("event-dispatcher"),
	}
}

// Emit stamps msg with an id and hands it off without waiting for mining
func (d *EventDispatcher) Emit(ctx context.Context, msg *entity.EventMessage) error {
	if msg.EventType == "" {
		return apperrors.NewValidationError("eventType is required", nil)
	}
	if msg.EventID == "" {
		msg.EventID = uuid.NewString()
	}
	if msg.EmittedAt.IsZero() {
		msg.EmittedAt = time.Now().UTC()
	}
	if msg.Source == "" {
		msg.Source = d.source
	}

	if d.messaging != nil && d.messaging.IsConnected() {
		err := d.messaging.Emit(ctx, msg)
		if err == nil {
			return nil
		}
		d.logger.Warn("Stream emit failed, falling back to local queue",
			zap.String("event_id", msg.EventID),
			zap.Error(err))
	}
	return d.local.Emit(ctx, msg)
}

// EventConsumer feeds events from the stream into the ledger writer
type EventConsumer struct {
	messaging service.MessagingService
	handler   service.EventHandler
	logger    *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEventConsumer creates a consumer that passes each message to handler
func NewEventConsumer(messaging service.MessagingService, handler service.EventHandler, logger *logger.Logger) *EventConsumer {
	return &EventConsumer{
		messaging: messaging,
		handler:   handler,
		logger:    logger.WithComponent("event-consumer"),
	}
}

// Start begins consuming when the stream is connected
func (c *EventConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}
	if c.messaging == nil || !c.messaging.IsConnected() {
		c.logger.Info("Event stream not connected, consumer idle")
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.messaging.Consume(ctx, c.handler); err != nil {
			c.logger.Error("Event consumer stopped", zap.Error(err))
		}
	}()

	c.logger.Info("Event consumer started")
	return nil
}

// Stop cancels consumption and waits for the in-flight message
func (c *EventConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Event consumer stopped")
	case <-ctx.Done():
		c.logger.Warn("Timeout waiting for event consumer to stop")
	}
	return nil
}
