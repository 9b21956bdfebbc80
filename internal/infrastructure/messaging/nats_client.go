package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by stream operations before Connect succeeds
var ErrNotConnected = errors.New("NATS client is not connected")

const fetchWait = 2 * time.Second

// NATSClient handles NATS JetStream operations and implements MessagingService interface
type NATSClient struct {
	conn      *nats.Conn
	js        nats.JetStreamContext
	config    *config.NATSConfig
	logger    *logger.Logger
	mu        sync.RWMutex
	isRunning bool
}

var _ service.MessagingService = (*NATSClient)(nil)

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logger.Logger) *NATSClient {
	return &NATSClient{
		config: cfg,
		logger: logger.WithComponent("nats-client"),
	}
}

// NewNATSMessagingService creates a new NATS messaging service from main config
func NewNATSMessagingService(cfg *config.Config, logger *logger.Logger) *NATSClient {
	return NewNATSClient(&cfg.NATS, logger)
}

// Enabled reports whether NATS is configured on
func (n *NATSClient) Enabled() bool {
	return n.config.Enabled
}

// Connect connects to NATS server and sets up JetStream
func (n *NATSClient) Connect(ctx context.Context) error {
	if !n.config.Enabled {
		n.logger.Info("NATS is disabled, skipping connection")
		return nil
	}

	n.logger.Info("Connecting to NATS server", zap.String("url", n.config.URL))

	opts := []nats.Option{
		nats.Name("petshop-provenance-ledger"),
		nats.Timeout(n.config.ConnectTimeout),
		nats.ReconnectWait(n.config.ReconnectDelay),
		nats.MaxReconnects(n.config.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			n.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		n.logger.Error("Failed to connect to NATS", zap.Error(err))
		return apperrors.NewMessagingError("failed to connect to NATS", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		n.logger.Error("Failed to create JetStream context", zap.Error(err))
		return apperrors.NewMessagingError("failed to create JetStream context", err)
	}

	n.mu.Lock()
	n.conn = conn
	n.js = js
	n.mu.Unlock()

	if err := n.setupStream(ctx); err != nil {
		return apperrors.NewMessagingError("failed to setup stream", err)
	}

	n.mu.Lock()
	n.isRunning = true
	n.mu.Unlock()
	n.logger.Info("Successfully connected to NATS and setup JetStream")

	return nil
}

// Disconnect disconnects from NATS server
func (n *NATSClient) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
		n.js = nil
	}
	n.isRunning = false
	n.logger.Info("Disconnected from NATS")
	return nil
}

// IsConnected checks if connected to NATS
func (n *NATSClient) IsConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isRunning && n.conn != nil && n.conn.IsConnected()
}

func (n *NATSClient) jetStream() (nats.JetStreamContext, error) {
	if !n.IsConnected() {
		return nil, ErrNotConnected
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.js, nil
}

// setupStream creates the JetStream stream when it does not exist yet
func (n *NATSClient) setupStream(ctx context.Context) error {
	streamName := n.config.StreamName
	subject := n.config.Subject()

	stream, err := n.js.StreamInfo(streamName, nats.Context(ctx))
	if err == nil {
		n.logger.Info("JetStream stream already exists",
			zap.String("stream", streamName),
			zap.Uint64("messages", stream.State.Msgs))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	n.logger.Info("Creating JetStream stream",
		zap.String("stream", streamName),
		zap.String("subject", subject))

	// Work queue retention: a message leaves the stream once the ledger
	// writer acks it, i.e. after the record is persisted
	streamConfig := &nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subject},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		MaxMsgs:    1000000,
		MaxBytes:   1024 * 1024 * 1024,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	}

	if _, err := n.js.AddStream(streamConfig, nats.Context(ctx)); err != nil {
		n.logger.Error("Failed to create stream", zap.Error(err))
		return err
	}

	n.logger.Info("Successfully created JetStream stream")
	return nil
}

// Emit publishes an event message to JetStream. The event id doubles as the
// message id so a re-emitted event is deduplicated by the server.
func (n *NATSClient) Emit(ctx context.Context, msg *entity.EventMessage) error {
	js, err := n.jetStream()
	if err != nil {
		return apperrors.NewMessagingError("cannot emit event", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.NewMessagingError("failed to marshal event message", err)
	}

	subject := n.config.Subject()
	ack, err := js.Publish(subject, data, nats.MsgId(msg.EventID), nats.Context(ctx))
	if err != nil {
		n.logger.Error("Failed to publish ledger event",
			zap.String("event_id", msg.EventID),
			zap.String("event_type", string(msg.EventType)),
			zap.Error(err))
		return apperrors.NewMessagingError("failed to publish ledger event", err)
	}

	n.logger.Debug("Published ledger event",
		zap.String("event_id", msg.EventID),
		zap.String("subject", subject),
		zap.Uint64("sequence", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate))

	return nil
}

// Consume pulls event messages from the durable consumer and hands them to
// handler until ctx is done. Failed messages are redelivered up to
// max_deliver times and then terminated.
func (n *NATSClient) Consume(ctx context.Context, handler service.EventHandler) error {
	js, err := n.jetStream()
	if err != nil {
		return apperrors.NewMessagingError("cannot consume events", err)
	}

	sub, err := js.PullSubscribe(n.config.Subject(), n.config.ConsumerName,
		nats.BindStream(n.config.StreamName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(n.config.AckWait),
		nats.MaxDeliver(n.config.MaxDeliver),
	)
	if err != nil {
		return apperrors.NewMessagingError("failed to create pull subscription", err)
	}

	n.logger.Info("Consuming ledger events",
		zap.String("stream", n.config.StreamName),
		zap.String("consumer", n.config.ConsumerName))

	batch := n.config.FetchBatch
	if batch <= 0 {
		batch = 1
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(batch, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return apperrors.NewMessagingError("event subscription closed", err)
			}
			n.logger.Warn("Failed to fetch ledger events", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchWait):
			}
			continue
		}

		for _, m := range msgs {
			n.handleMessage(ctx, m, handler)
		}
	}
}

func (n *NATSClient) handleMessage(ctx context.Context, m *nats.Msg, handler service.EventHandler) {
	var event entity.EventMessage
	decoder := json.NewDecoder(bytes.NewReader(m.Data))
	decoder.UseNumber()
	if err := decoder.Decode(&event); err != nil {
		n.logger.Error("Dropping undecodable ledger event", zap.Error(err))
		m.Term()
		return
	}

	if err := handler(ctx, &event); err != nil {
		delivered := uint64(1)
		if meta, metaErr := m.Metadata(); metaErr == nil {
			delivered = meta.NumDelivered
		}

		if apperrors.IsValidation(err) || delivered >= uint64(n.config.MaxDeliver) {
			n.logger.Error("Dropping ledger event after failed append",
				zap.String("event_id", event.EventID),
				zap.String("event_type", string(event.EventType)),
				zap.Uint64("deliveries", delivered),
				zap.Error(err))
			m.Term()
			return
		}

		n.logger.Warn("Ledger append failed, event will be redelivered",
			zap.String("event_id", event.EventID),
			zap.Uint64("deliveries", delivered),
			zap.Error(err))
		m.NakWithDelay(time.Duration(delivered) * time.Second)
		return
	}

	if err := m.Ack(); err != nil {
		n.logger.Warn("Failed to ack ledger event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

// GetStreamInfo returns information about the JetStream stream
func (n *NATSClient) GetStreamInfo() (interface{}, error) {
	js, err := n.jetStream()
	if err != nil {
		return nil, err
	}
	return js.StreamInfo(n.config.StreamName)
}

