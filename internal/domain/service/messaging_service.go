package service

import (
	"context"

	"petshop-provenance-ledger/internal/domain/entity"
)

// EventHandler processes one consumed event message
type EventHandler func(ctx context.Context, msg *entity.EventMessage) error

// MessagingService defines the interface for the ledger event stream
type MessagingService interface {
	// Connect establishes connection to the messaging system
	Connect(ctx context.Context) error

	// Disconnect closes connection to the messaging system
	Disconnect() error

	// IsConnected checks if connected to the messaging system
	IsConnected() bool

	// Emit publishes a single event message
	Emit(ctx context.Context, msg *entity.EventMessage) error

	// Consume delivers stream messages to handler until ctx is done
	Consume(ctx context.Context, handler EventHandler) error

	// GetStreamInfo returns information about the message stream (if applicable)
	GetStreamInfo() (interface{}, error)
}
