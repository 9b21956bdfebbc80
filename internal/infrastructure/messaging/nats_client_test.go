package messaging

import (
	"context"
	"testing"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockNATSClient is a mock implementation of MessagingService for testing
type MockNATSClient struct {
	mock.Mock
	connected bool
}

func (m *MockNATSClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	if args.Error(0) == nil {
		m.connected = true
	}
	return args.Error(0)
}

func (m *MockNATSClient) Disconnect() error {
	args := m.Called()
	m.connected = false
	return args.Error(0)
}

func (m *MockNATSClient) IsConnected() bool {
	return m.connected
}

func (m *MockNATSClient) Emit(ctx context.Context, msg *entity.EventMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockNATSClient) Consume(ctx context.Context, handler service.EventHandler) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockNATSClient) GetStreamInfo() (interface{}, error) {
	args := m.Called()
	return args.Get(0), args.Error(1)
}

var _ service.MessagingService = (*MockNATSClient)(nil)

func testNATSConfig(enabled bool) *config.NATSConfig {
	return &config.NATSConfig{
		Enabled:           enabled,
		URL:               "nats://localhost:4222",
		StreamName:        "TEST_STREAM",
		SubjectPrefix:     "test",
		ConsumerName:      "test-writer",
		ConnectTimeout:    10 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    2 * time.Second,
		MaxDeliver:        3,
		AckWait:           time.Second,
	}
}

func createTestEvent() *entity.EventMessage {
	return &entity.EventMessage{
		EventID:   "0b7b1c9a-6f1a-4a57-9f77-1d1c4f2b0c11",
		EventType: entity.EventOrderCreated,
		EventData: map[string]any{"orderId": "o-1", "total": 120.0},
		Source:    "purchase-orders",
		EmittedAt: time.Now(),
	}
}

func TestNewNATSClient(t *testing.T) {
	cfg := testNATSConfig(true)

	client := NewNATSClient(cfg, logger.NewNop())

	assert.NotNil(t, client)
	assert.Equal(t, cfg, client.config)
	assert.NotNil(t, client.logger)
	assert.False(t, client.isRunning)
	assert.True(t, client.Enabled())
}

func TestNewNATSMessagingService(t *testing.T) {
	cfg := &config.Config{NATS: *testNATSConfig(true)}

	client := NewNATSMessagingService(cfg, logger.NewNop())

	assert.NotNil(t, client)
	assert.Equal(t, &cfg.NATS, client.config)
	assert.Equal(t, "test.events", client.config.Subject())
}

func TestNATSClient_DisabledConfig(t *testing.T) {
	client := NewNATSClient(testNATSConfig(false), logger.NewNop())
	ctx := context.Background()

	// Connect should succeed but do nothing when disabled
	err := client.Connect(ctx)
	assert.NoError(t, err)
	assert.False(t, client.IsConnected())

	// A disabled client cannot carry events; the local queue does instead
	err = client.Emit(ctx, createTestEvent())
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMessaging))
}

func TestNATSClient_NotConnected(t *testing.T) {
	client := NewNATSClient(testNATSConfig(true), logger.NewNop())
	ctx := context.Background()

	// Should not be connected initially
	assert.False(t, client.IsConnected())

	err := client.Emit(ctx, createTestEvent())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	err = client.Consume(ctx, func(context.Context, *entity.EventMessage) error { return nil })
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	_, err = client.GetStreamInfo()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, client.Disconnect())
}

func TestMockNATSClient(t *testing.T) {
	mockClient := &MockNATSClient{}
	ctx := context.Background()

	mockClient.On("Connect", ctx).Return(nil)
	err := mockClient.Connect(ctx)
	assert.NoError(t, err)
	assert.True(t, mockClient.IsConnected())

	event := createTestEvent()
	mockClient.On("Emit", ctx, event).Return(nil)
	err = mockClient.Emit(ctx, event)
	assert.NoError(t, err)

	mockClient.On("Disconnect").Return(nil)
	err = mockClient.Disconnect()
	assert.NoError(t, err)
	assert.False(t, mockClient.IsConnected())

	mockClient.AssertExpectations(t)
}
