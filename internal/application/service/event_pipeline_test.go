package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"petshop-provenance-ledger/internal/adapters/secondary"
	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/database"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMessagingService is a mock implementation of MessagingService
type MockMessagingService struct {
	mock.Mock
}

func (m *MockMessagingService) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMessagingService) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessagingService) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMessagingService) Emit(ctx context.Context, msg *entity.EventMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessagingService) Consume(ctx context.Context, handler service.EventHandler) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMessagingService) GetStreamInfo() (interface{}, error) {
	args := m.Called()
	return args.Get(0), args.Error(1)
}

// collectingHandler records every handled message
type collectingHandler struct {
	mu       sync.Mutex
	messages []*entity.EventMessage
}

func (h *collectingHandler) handle(ctx context.Context, msg *entity.EventMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return nil
}

func (h *collectingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func TestLocalEmitter_DropsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.QueueSize = 1

	handler := &collectingHandler{}
	dropped := 0
	emitter := NewLocalEmitter(handler.handle, func() { dropped++ }, cfg, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, emitter.Emit(ctx, &entity.EventMessage{EventID: "e-1", EventType: entity.EventSold}))
	assert.Equal(t, 1, emitter.Pending())

	err := emitter.Emit(ctx, &entity.EventMessage{EventID: "e-2", EventType: entity.EventSold})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMessaging))
	assert.Equal(t, 1, dropped)

	require.NoError(t, emitter.Start(ctx))
	assert.Eventually(t, func() bool { return handler.count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, emitter.Stop(ctx))
}

func TestLocalEmitter_Restart(t *testing.T) {
	handler := &collectingHandler{}
	emitter := NewLocalEmitter(handler.handle, nil, testConfig(), logger.NewNop())
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.NoError(t, emitter.Start(ctx))
		require.NoError(t, emitter.Emit(ctx, &entity.EventMessage{EventType: entity.EventSold}))
		want := i
		assert.Eventually(t, func() bool { return handler.count() == want }, time.Second, 10*time.Millisecond)
		require.NoError(t, emitter.Stop(ctx))
	}
}

func TestLocalEmitter_FeedsLedger(t *testing.T) {
	l := newTestLedger(t, nil)
	emitter := NewLocalEmitter(l.service.HandleEventMessage, l.service.RecordDroppedEvent, testConfig(), logger.NewNop())
	ctx := context.Background()
	require.NoError(t, emitter.Start(ctx))
	defer emitter.Stop(ctx)

	for _, code := range []string{"A", "B", "C"} {
		require.NoError(t, emitter.Emit(ctx, &entity.EventMessage{
			EventID:   code,
			EventType: entity.EventPetCreated,
			EventData: map[string]any{"petCode": code},
		}))
	}

	assert.Eventually(t, func() bool {
		count, err := l.repo.CountRecords(ctx)
		return err == nil && count == 3
	}, 5*time.Second, 10*time.Millisecond)

	result, err := l.service.VerifyChain(ctx, "", "")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestEventDispatcher_PrefersStream(t *testing.T) {
	messaging := &MockMessagingService{}
	local := &collectingHandler{}
	localEmitter := NewLocalEmitter(local.handle, nil, testConfig(), logger.NewNop())
	dispatcher := NewEventDispatcher(messaging, localEmitter, "http-api", logger.NewNop())
	ctx := context.Background()

	msg := &entity.EventMessage{EventType: entity.EventOrderCreated, EventData: map[string]any{"orderId": "o-1"}}
	messaging.On("IsConnected").Return(true)
	messaging.On("Emit", ctx, msg).Return(nil).Once()

	require.NoError(t, dispatcher.Emit(ctx, msg))
	assert.NotEmpty(t, msg.EventID)
	assert.Equal(t, "http-api", msg.Source)
	assert.False(t, msg.EmittedAt.IsZero())
	assert.Equal(t, 0, localEmitter.Pending())

	// a failed publish falls back to the local queue
	messaging.On("Emit", ctx, msg).Return(errors.New("nats: timeout")).Once()
	require.NoError(t, dispatcher.Emit(ctx, msg))
	assert.Equal(t, 1, localEmitter.Pending())

	messaging.AssertExpectations(t)
}

func TestEventDispatcher_Validation(t *testing.T) {
	dispatcher := NewEventDispatcher(nil, NewLocalEmitter(nil, nil, testConfig(), logger.NewNop()), "test", logger.NewNop())

	err := dispatcher.Emit(context.Background(), &entity.EventMessage{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestEventConsumer_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("idle when disconnected", func(t *testing.T) {
		messaging := &MockMessagingService{}
		messaging.On("IsConnected").Return(false)

		consumer := NewEventConsumer(messaging, (&collectingHandler{}).handle, logger.NewNop())
		require.NoError(t, consumer.Start(ctx))
		require.NoError(t, consumer.Stop(ctx))
		messaging.AssertNotCalled(t, "Consume", mock.Anything)
	})

	t.Run("consumes until stopped", func(t *testing.T) {
		messaging := &MockMessagingService{}
		started := make(chan struct{})
		messaging.On("IsConnected").Return(true)
		messaging.On("Consume", mock.Anything).Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).Return(nil)

		consumer := NewEventConsumer(messaging, (&collectingHandler{}).handle, logger.NewNop())
		require.NoError(t, consumer.Start(ctx))

		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("consumer did not start")
		}
		require.NoError(t, consumer.Stop(ctx))
		messaging.AssertExpectations(t)
	})
}

func TestMonitorService_MetricsAndHealth(t *testing.T) {
	l := newTestLedger(t, nil)
	l.add(t, entity.EventPetCreated, map[string]any{"petCode": "A"})
	l.add(t, entity.EventSold, map[string]any{"petCode": "A"})
	l.service.RecordDroppedEvent()

	metricsDB, err := database.NewMemLevelDB()
	require.NoError(t, err)
	defer metricsDB.Close()
	metricsRepo := secondary.NewLevelDBMetricsRepository(metricsDB)

	messaging := &MockMessagingService{}
	messaging.On("IsConnected").Return(false)

	cfg := testConfig()
	cfg.NATS.Enabled = true
	monitor := NewMonitorService(l.service, metricsRepo, messaging, cfg, logger.NewNop())
	ctx := context.Background()

	metrics := monitor.CollectMetrics(ctx)
	assert.Equal(t, int64(1), metrics.ChainHeight)
	assert.Equal(t, uint64(2), metrics.BlocksAppended)
	assert.Equal(t, uint64(1), metrics.DroppedEvents)
	assert.Equal(t, "ledger-test", metrics.Instance)
	assert.Greater(t, metrics.AverageNonce, 0.0)

	require.NoError(t, monitor.SaveMetrics(ctx))
	saved, err := metricsRepo.GetLatestLedgerMetrics(ctx, "ledger-test")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, uint64(2), saved.BlocksAppended)

	health := monitor.CheckHealth(ctx)
	assert.Equal(t, entity.HealthStatusDegraded, health.Status)
	assert.Equal(t, entity.HealthStatusHealthy, health.ComponentsHealth["storage"].Status)
	assert.Equal(t, entity.HealthStatusHealthy, health.ComponentsHealth["writer"].Status)
	assert.Equal(t, entity.HealthStatusDegraded, health.ComponentsHealth["messaging"].Status)
	assert.Same(t, health, monitor.LastHealth())

	require.NoError(t, l.service.Stop(ctx))
	health = monitor.CheckHealth(ctx)
	assert.Equal(t, entity.HealthStatusUnhealthy, health.Status)
	assert.Contains(t, health.Message, "Ledger writer is not running")
}

func TestMonitorService_StartStop(t *testing.T) {
	l := newTestLedger(t, nil)
	metricsDB, err := database.NewMemLevelDB()
	require.NoError(t, err)
	defer metricsDB.Close()

	monitor := NewMonitorService(l.service, secondary.NewLevelDBMetricsRepository(metricsDB), nil, testConfig(), logger.NewNop())
	ctx := context.Background()

	require.NoError(t, monitor.Start(ctx))
	assert.Error(t, monitor.Start(ctx))
	require.NoError(t, monitor.Stop(ctx))
	require.NoError(t, monitor.Stop(ctx))
}

func TestMonitorService_Restart(t *testing.T) {
	l := newTestLedger(t, nil)
	metricsDB, err := database.NewMemLevelDB()
	require.NoError(t, err)
	defer metricsDB.Close()

	cfg := testConfig()
	cfg.Monitoring.MetricsInterval = 10 * time.Millisecond
	metricsRepo := secondary.NewLevelDBMetricsRepository(metricsDB)
	monitor := NewMonitorService(l.service, metricsRepo, nil, cfg, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, monitor.Start(ctx))
	require.NoError(t, monitor.Stop(ctx))

	restarted := time.Now()
	require.NoError(t, monitor.Start(ctx))
	defer monitor.Stop(ctx)

	assert.Eventually(t, func() bool {
		latest, err := metricsRepo.GetLatestLedgerMetrics(ctx, cfg.App.Instance)
		return err == nil && latest != nil && latest.Timestamp.After(restarted)
	}, 2*time.Second, 10*time.Millisecond)
}
