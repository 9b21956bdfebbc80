package main

import (
	"context"
	"time"

	"petshop-provenance-ledger/internal/adapters/primary/httpapi"
	"petshop-provenance-ledger/internal/adapters/secondary"
	appservice "petshop-provenance-ledger/internal/application/service"
	"petshop-provenance-ledger/internal/domain/repository"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/internal/infrastructure/messaging"
	"petshop-provenance-ledger/internal/infrastructure/sealing"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const storageOpenTimeout = 30 * time.Second

// provideStorage opens the configured backend and closes it on stop
func provideStorage(lc fx.Lifecycle, cfg *config.Config, log *logger.Logger) (*secondary.Storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storageOpenTimeout)
	defer cancel()

	storage, err := secondary.OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return storage.Close(ctx)
		},
	})
	return storage, nil
}

func provideLedgerRepository(storage *secondary.Storage) repository.LedgerRepository {
	return storage.Ledger
}

func provideMetricsRepository(storage *secondary.Storage) repository.MetricsRepository {
	return storage.Metrics
}

func provideLocalEmitter(ledger *appservice.LedgerService, cfg *config.Config, log *logger.Logger) *appservice.LocalEmitter {
	return appservice.NewLocalEmitter(ledger.HandleEventMessage, ledger.RecordDroppedEvent, cfg, log)
}

func provideEventDispatcher(messaging service.MessagingService, local *appservice.LocalEmitter, cfg *config.Config, log *logger.Logger) *appservice.EventDispatcher {
	return appservice.NewEventDispatcher(messaging, local, cfg.App.Name, log)
}

func provideEventConsumer(messaging service.MessagingService, ledger *appservice.LedgerService, log *logger.Logger) *appservice.EventConsumer {
	return appservice.NewEventConsumer(messaging, ledger.HandleEventMessage, log)
}

func provideHTTPServer(
	cfg *config.Config,
	ledger *appservice.LedgerService,
	dispatcher *appservice.EventDispatcher,
	monitor *appservice.MonitorService,
	hub *httpapi.Hub,
	log *logger.Logger,
) *httpapi.Server {
	return httpapi.NewServer(cfg, ledger, dispatcher, monitor, hub, log)
}

func main() {
	app := fx.New(
		// Configuration
		fx.Provide(config.LoadConfig),

		// Infrastructure
		fx.Provide(logger.NewLogger),
		fx.Provide(provideStorage),
		fx.Provide(provideLedgerRepository),
		fx.Provide(provideMetricsRepository),
		fx.Provide(
			fx.Annotate(
				sealing.NewSealer,
				fx.As(new(service.RecordSealer)),
			),
		),
		fx.Provide(
			fx.Annotate(
				messaging.NewNATSMessagingService,
				fx.As(new(service.MessagingService)),
			),
		),

		// Application services
		fx.Provide(appservice.NewLedgerService),
		fx.Provide(provideLocalEmitter),
		fx.Provide(provideEventDispatcher),
		fx.Provide(provideEventConsumer),
		fx.Provide(appservice.NewMonitorService),

		// HTTP API
		fx.Provide(httpapi.NewHub),
		fx.Provide(provideHTTPServer),

		// Lifecycle hooks
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// registerHooks registers application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *logger.Logger,
	messagingService service.MessagingService,
	ledgerService *appservice.LedgerService,
	localEmitter *appservice.LocalEmitter,
	consumer *appservice.EventConsumer,
	monitor *appservice.MonitorService,
	hub *httpapi.Hub,
	server *httpapi.Server,
) {
	// workers outlive the start context
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting Petshop Provenance Ledger",
				zap.String("version", "1.0.0"),
				zap.String("instance", cfg.App.Instance),
				zap.String("storage", cfg.Storage.Backend))

			ledgerService.SetBroadcaster(hub)
			if err := ledgerService.Start(runCtx); err != nil {
				logger.Error("Failed to start ledger service", zap.Error(err))
				return err
			}

			// The stream is optional; events fall back to the local queue
			if err := messagingService.Connect(ctx); err != nil {
				logger.Warn("Event stream unavailable, using local queue", zap.Error(err))
			}
			if err := localEmitter.Start(runCtx); err != nil {
				return err
			}
			if err := consumer.Start(runCtx); err != nil {
				return err
			}
			if err := monitor.Start(runCtx); err != nil {
				logger.Error("Failed to start monitor service", zap.Error(err))
				return err
			}

			if err := server.Start(ctx); err != nil {
				logger.Error("Failed to start HTTP server", zap.Error(err))
				return err
			}

			logger.Info("Petshop Provenance Ledger started successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping Petshop Provenance Ledger")

			if err := server.Stop(ctx); err != nil {
				logger.Error("Error stopping HTTP server", zap.Error(err))
			}
			if err := consumer.Stop(ctx); err != nil {
				logger.Error("Error stopping event consumer", zap.Error(err))
			}
			if err := localEmitter.Stop(ctx); err != nil {
				logger.Error("Error stopping local emitter", zap.Error(err))
			}
			if err := monitor.Stop(ctx); err != nil {
				logger.Error("Error stopping monitor service", zap.Error(err))
			}
			if err := ledgerService.Stop(ctx); err != nil {
				logger.Error("Error stopping ledger service", zap.Error(err))
			}
			if err := messagingService.Disconnect(); err != nil {
				logger.Error("Error disconnecting from NATS", zap.Error(err))
			}
			cancel()

			// Sync logger; errors are expected on some systems
			_ = logger.Sync()

			logger.Info("Petshop Provenance Ledger stopped")
			return nil
		},
	})
}
