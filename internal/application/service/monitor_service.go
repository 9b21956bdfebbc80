package service

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/repository"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/pkg/utils"

	"go.uber.org/zap"
)

// MonitorService periodically persists ledger metrics and health snapshots
type MonitorService struct {
	ledger      *LedgerService
	metricsRepo repository.MetricsRepository
	messaging   service.MessagingService
	config      *config.Config
	logger      *logger.Logger

	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex

	lastHealth                     *entity.SystemHealth
	consecutiveHealthCheckFailures int
}

// NewMonitorService creates a new monitor service. messaging may be nil.
func NewMonitorService(
	ledger *LedgerService,
	metricsRepo repository.MetricsRepository,
	messaging service.MessagingService,
	config *config.Config,
	logger *logger.Logger,
) *MonitorService {
	return &MonitorService{
		ledger:      ledger,
		metricsRepo: metricsRepo,
		messaging:   messaging,
		config:      config,
		logger:      logger.WithComponent("monitor-service"),
		stopChan:    make(chan struct{}),
	}
}

// Start starts the metrics and health check workers
func (s *MonitorService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("monitor service is already running")
	}
	if !s.config.Monitoring.MetricsEnabled {
		s.logger.Info("Monitoring is disabled")
		return nil
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.wg.Add(2)
	go s.metricsWorker(ctx, s.stopChan)
	go s.healthCheckWorker(ctx, s.stopChan)

	s.logger.Info("Monitor service started",
		zap.Duration("metrics_interval", s.config.Monitoring.MetricsInterval),
		zap.Duration("health_check_interval", s.config.Monitoring.HealthCheckInterval))
	return nil
}

// Stop stops the workers
func (s *MonitorService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	close(s.stopChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Monitor service stopped")
	case <-ctx.Done():
		s.logger.Warn("Timeout waiting for monitor workers to stop")
	}
	return nil
}

func (s *MonitorService) metricsWorker(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Monitoring.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SaveMetrics(ctx); err != nil {
				s.logger.Error("Failed to save metrics", zap.Error(err))
			}
		}
	}
}

func (s *MonitorService) healthCheckWorker(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Monitoring.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := s.CheckHealth(ctx)
			if err := s.metricsRepo.SaveSystemHealth(ctx, health); err != nil {
				s.logger.Warn("Failed to save system health", zap.Error(err))
			}
		}
	}
}

// CollectMetrics builds a metrics snapshot of the ledger writer
func (s *MonitorService) CollectMetrics(ctx context.Context) *entity.LedgerMetrics {
	m := s.ledger.GetMetrics()

	height := int64(-1)
	if tip, err := s.ledger.repo.GetTip(ctx); err == nil && tip != nil {
		height = tip.Index
	}

	uptime := time.Since(m.StartTime)
	var blocksPerMin, avgMiningMs, avgNonce float64
	if uptime.Minutes() > 0 {
		blocksPerMin = float64(m.BlocksAppended) / uptime.Minutes()
	}
	if mined := m.BlocksAppended + m.ConflictCount; mined > 0 {
		avgMiningMs = float64(m.TotalMiningTime.Milliseconds()) / float64(mined)
		avgNonce = float64(m.TotalNonces) / float64(mined)
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &entity.LedgerMetrics{
		Timestamp:        time.Now(),
		ChainHeight:      height,
		BlocksAppended:   m.BlocksAppended,
		BlocksPerMin:     blocksPerMin,
		ConflictCount:    m.ConflictCount,
		FailureCount:     m.FailureCount,
		DroppedEvents:    m.DroppedEvents,
		AverageMiningMs:  avgMiningMs,
		AverageNonce:     avgNonce,
		LastErrorMessage: m.LastErrorMessage,
		LastErrorTime:    m.LastErrorTime,
		Uptime:           uptime,
		MemoryUsage:      memStats.Alloc,
		GoroutineCount:   runtime.NumGoroutine(),
		Instance:         s.config.App.Instance,
	}
}

// SaveMetrics persists one metrics snapshot
func (s *MonitorService) SaveMetrics(ctx context.Context) error {
	metrics := s.CollectMetrics(ctx)
	if err := s.metricsRepo.SaveLedgerMetrics(ctx, metrics); err != nil {
		return err
	}

	s.logger.Debug("Ledger metrics saved",
		zap.Int64("chain_height", metrics.ChainHeight),
		zap.Uint64("blocks_appended", metrics.BlocksAppended),
		zap.Float64("average_mining_ms", metrics.AverageMiningMs),
		zap.String("memory", utils.FormatBytes(metrics.MemoryUsage)),
		zap.String("uptime", utils.FormatDuration(metrics.Uptime)))
	return nil
}

// CheckHealth checks storage, the writer and messaging
func (s *MonitorService) CheckHealth(ctx context.Context) *entity.SystemHealth {
	start := time.Now()
	componentsHealth := make(map[string]entity.ComponentHealth)

	overallStatus := entity.HealthStatusHealthy
	var messages []string

	degrade := func(status entity.HealthStatus, message string) {
		messages = append(messages, message)
		if status == entity.HealthStatusUnhealthy {
			overallStatus = entity.HealthStatusUnhealthy
		} else if overallStatus == entity.HealthStatusHealthy {
			overallStatus = entity.HealthStatusDegraded
		}
	}

	// Check ledger storage
	storageStart := time.Now()
	storageErr := s.ledger.Ping(ctx)
	storageLatency := time.Since(storageStart)

	storageStatus := entity.HealthStatusHealthy
	storageMessage := "Ledger storage healthy"
	if storageErr != nil {
		storageStatus = entity.HealthStatusUnhealthy
		storageMessage = fmt.Sprintf("Ledger storage failed: %v", storageErr)
		degrade(storageStatus, storageMessage)
	} else if storageLatency > 2*time.Second {
		storageStatus = entity.HealthStatusDegraded
		storageMessage = "High ledger storage latency detected"
		degrade(storageStatus, storageMessage)
	}
	componentsHealth["storage"] = entity.ComponentHealth{
		Status:       storageStatus,
		LastChecked:  time.Now(),
		Message:      storageMessage,
		ResponseTime: storageLatency,
	}

	// Check the single writer
	writerStatus := entity.HealthStatusHealthy
	writerMessage := "Ledger writer running"
	if !s.ledger.IsRunning() {
		writerStatus = entity.HealthStatusUnhealthy
		writerMessage = "Ledger writer is not running"
		degrade(writerStatus, writerMessage)
	}
	componentsHealth["writer"] = entity.ComponentHealth{
		Status:      writerStatus,
		LastChecked: time.Now(),
		Message:     writerMessage,
	}

	// Messaging is optional; the local queue takes over when it is down
	if s.messaging != nil && s.config.NATS.Enabled {
		messagingStatus := entity.HealthStatusHealthy
		messagingMessage := "Messaging service healthy"
		if !s.messaging.IsConnected() {
			messagingStatus = entity.HealthStatusDegraded
			messagingMessage = "Messaging service is not connected"
			degrade(messagingStatus, messagingMessage)
		}
		componentsHealth["messaging"] = entity.ComponentHealth{
			Status:      messagingStatus,
			LastChecked: time.Now(),
			Message:     messagingMessage,
		}
	}

	overallMessage := "All systems operational"
	if len(messages) > 0 {
		overallMessage = strings.Join(messages, "; ")
	}

	health := &entity.SystemHealth{
		Timestamp:        time.Now(),
		Status:           overallStatus,
		Message:          overallMessage,
		ComponentsHealth: componentsHealth,
		Instance:         s.config.App.Instance,
	}

	s.mu.Lock()
	s.lastHealth = health
	if overallStatus == entity.HealthStatusUnhealthy {
		s.consecutiveHealthCheckFailures++
	} else {
		s.consecutiveHealthCheckFailures = 0
	}
	failures := s.consecutiveHealthCheckFailures
	s.mu.Unlock()

	s.logger.Debug("Health check completed",
		zap.String("overall_status", string(overallStatus)),
		zap.String("message", overallMessage),
		zap.Duration("total_time", time.Since(start)),
		zap.Int("consecutive_failures", failures))

	if failures >= 3 {
		s.logger.Warn("Multiple consecutive health check failures detected",
			zap.Int("failure_count", failures))
	}
	return health
}

// LastHealth returns the most recent health snapshot, if any
func (s *MonitorService) LastHealth() *entity.SystemHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHealth
}
