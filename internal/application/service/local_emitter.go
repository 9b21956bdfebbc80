package service

import (
	"context"
	"errors"
	"sync"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the local event queue is at capacity
var ErrQueueFull = errors.New("ledger event queue is full")

// LocalEmitter queues events in memory and feeds them to a handler from one
// goroutine. A full queue drops the event.
type LocalEmitter struct {
	handler service.EventHandler
	onDrop  func()
	logger  *logger.Logger

	queue    chan *entity.EventMessage
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	isRunning bool
}

var _ service.EventEmitter = (*LocalEmitter)(nil)

// NewLocalEmitter creates a queue of config.Ledger.QueueSize events.
// onDrop may be nil.
func NewLocalEmitter(handler service.EventHandler, onDrop func(), config *config.Config, logger *logger.Logger) *LocalEmitter {
	size := config.Ledger.QueueSize
	if size <= 0 {
		size = 1
	}
	return &LocalEmitter{
		handler:  handler,
		onDrop:   onDrop,
		logger:   logger.WithComponent("local-emitter"),
		queue:    make(chan *entity.EventMessage, size),
		stopChan: make(chan struct{}),
	}
}

// Start starts draining the queue
func (e *LocalEmitter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isRunning {
		return nil
	}
	e.isRunning = true
	e.stopChan = make(chan struct{})

	e.wg.Add(1)
	go e.worker(ctx, e.stopChan)
	return nil
}

// Stop stops the worker. Queued events wait for the next Start.
func (e *LocalEmitter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return nil
	}
	e.isRunning = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	if pending := len(e.queue); pending > 0 {
		e.logger.Warn("Ledger events left queued on shutdown", zap.Int("pending", pending))
	}
	return nil
}

// Emit enqueues msg without blocking
func (e *LocalEmitter) Emit(ctx context.Context, msg *entity.EventMessage) error {
	select {
	case e.queue <- msg:
		return nil
	default:
		e.logger.Warn("Ledger event queue full, dropping event",
			zap.String("event_id", msg.EventID),
			zap.String("event_type", string(msg.EventType)),
			zap.Int("capacity", cap(e.queue)))
		if e.onDrop != nil {
			e.onDrop()
		}
		return apperrors.NewMessagingError("event dropped", ErrQueueFull)
	}
}

// Pending returns the number of queued events
func (e *LocalEmitter) Pending() int {
	return len(e.queue)
}

func (e *LocalEmitter) worker(ctx context.Context, stop <-chan struct{}) {
	defer e.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case msg := <-e.queue:
			if err := e.handler(ctx, msg); err != nil {
				e.logger.Error("Failed to record queued event",
					zap.String("event_id", msg.EventID),
					zap.String("event_type", string(msg.EventType)),
					zap.Error(err))
			}
		}
	}
}
