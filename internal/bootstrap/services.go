package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ryuqq/fileflow/config"
	"github.com/ryuqq/fileflow/internal/adapters/queue"
	redisadapter "github.com/ryuqq/fileflow/internal/adapters/redis"
	"github.com/ryuqq/fileflow/internal/data"
	"github.com/ryuqq/fileflow/internal/observability/notify/pagerduty"
	"github.com/ryuqq/fileflow/internal/observability/notify/slack"
	"github.com/ryuqq/fileflow/internal/observability/statsd"
	"github.com/ryuqq/fileflow/internal/service"
	"github.com/ryuqq/fileflow/internal/service/failurenotifier"
)

// shutdownWaitTimeout bounds how long a stopping worker may take before we
// give up on it.
const shutdownWaitTimeout = 15 * time.Second

// ServiceContainer bundles the constructed services for the supervisor.
type ServiceContainer struct {
	Operations *service.OperationService
	Outbox     *service.OutboxService
	Reaper     *service.ReaperService
	Reconciler *service.ReconcilerService
	Expiration *service.ExpirationService
	Telemetry  Telemetry
}

// Telemetry carries the metrics sink and failure notifier.
type Telemetry struct {
	Metrics        *statsd.Client
	MetricsConfig  config.ObservabilityMetricsConfig
	Failures       *failurenotifier.Service
	NotifierConfig config.ObservabilityNotificationsConfig
}

// ServiceDeps is everything NewServices needs to wire the services.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices constructs the full service container.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
		appCfg.Sanitize()
	}

	telemetry := newTelemetry(logger, appCfg.Observability)

	operationRepo := data.NewOperationRepo(deps.DB, data.OperationRepoConfig{Logger: logger})
	outboxRepo := data.NewOutboxRepo(deps.DB, data.OutboxRepoConfig{Logger: logger})
	cacheRepo := data.NewRedisCacheRepo(deps.RedisClient)

	var metricsSink statsd.Sink
	if telemetry.Metrics != nil {
		metricsSink = telemetry.Metrics
	}

	operations, err := service.NewOperationService(service.OperationServiceOptions{
		Repo:    operationRepo,
		Cache:   cacheRepo,
		Session: appCfg.Session,
		Logger:  logger,
		Metrics: metricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build operation service: %w", err)
	}

	publisher, err := queue.NewRedisPublisher(deps.RedisClient, appCfg.Queue)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build queue publisher: %w", err)
	}

	outbox, err := service.NewOutboxService(service.OutboxServiceOptions{
		Repo:            outboxRepo,
		Publisher:       publisher,
		Config:          appCfg.Outbox,
		Logger:          logger,
		Metrics:         metricsSink,
		FailureNotifier: telemetry.Failures,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build outbox service: %w", err)
	}

	lock := redisadapter.NewLock(deps.RedisClient)

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:            operationRepo,
		Lock:            lock,
		Config:          appCfg.Reaper,
		LockConfig:      appCfg.Lock,
		Logger:          logger,
		Metrics:         metricsSink,
		FailureNotifier: telemetry.Failures,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper service: %w", err)
	}

	reconciler, err := service.NewReconcilerService(service.ReconcilerServiceOptions{
		Operations: operations,
		Repo:       operationRepo,
		Lock:       lock,
		Config:     appCfg.Reconciler,
		LockConfig: appCfg.Lock,
		Logger:     logger,
		Metrics:    metricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reconciler service: %w", err)
	}

	listener, err := redisadapter.NewExpirationListener(redisadapter.ExpirationListenerOptions{
		Client:    deps.RedisClient,
		DB:        appCfg.Redis.DB,
		KeyPrefix: appCfg.Session.KeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build expiration listener: %w", err)
	}

	expiration, err := service.NewExpirationService(service.ExpirationServiceOptions{
		Operations: operations,
		Events:     listener,
		Logger:     logger,
		Metrics:    metricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build expiration service: %w", err)
	}

	return ServiceContainer{
		Operations: operations,
		Outbox:     outbox,
		Reaper:     reaper,
		Reconciler: reconciler,
		Expiration: expiration,
		Telemetry:  telemetry,
	}, nil
}

// newTelemetry configures metrics and notification adapters. A sink
// that fails to initialise is logged and skipped rather than blocking
// startup.
func newTelemetry(logger *slog.Logger, cfg config.ObservabilityConfig) Telemetry {
	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "fileflow",
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return Telemetry{
		Metrics:        metricsSink,
		MetricsConfig:  cfg.Metrics,
		Failures:       newFailureNotifier(logger, cfg.Notifications),
		NotifierConfig: cfg.Notifications,
	}
}

func newFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	notifierLogger := logger.With("component", "failure_notifier")
	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: notifierLogger})
	}

	var sinks []failurenotifier.SinkRegistration
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}
	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: notifierLogger,
		Sinks:  sinks,
	})
}

// RunOptions feeds RunServices.
type RunOptions struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// worker is a long-running component selected by the service mode config.
type worker struct {
	mode config.ServiceMode
	name string
	run  func(context.Context) error
}

// runningWorker tracks a started worker until its goroutine exits.
type runningWorker struct {
	name string
	done <-chan struct{}
}

func allWorkers(services ServiceContainer) []worker {
	return []worker{
		{mode: config.ServiceModeOutboxPublisher, name: "outbox publisher", run: services.Outbox.Run},
		{mode: config.ServiceModeReaper, name: "reaper", run: services.Reaper.Run},
		{mode: config.ServiceModeSessionReconciler, name: "session reconciler", run: services.Reconciler.Run},
		{mode: config.ServiceModeExpirationListener, name: "expiration listener", run: services.Expiration.Run},
	}
}

func enabledWorkers(services ServiceContainer, enabled map[config.ServiceMode]bool) []worker {
	var selected []worker
	for _, w := range allWorkers(services) {
		if enabled[w.mode] {
			selected = append(selected, w)
		}
	}
	return selected
}

// RunServices starts all enabled services and blocks until a
// shutdown signal arrives or a worker fails. On either event the remaining
// workers get a cancel and a bounded grace period to stop.
func RunServices(cfg *RunOptions) error {
	if cfg == nil {
		return errors.New("run options are required")
	}
	if cfg.Config == nil {
		return errors.New("run options missing app config")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := enabledWorkers(cfg.Services, enabled)
	// One slot per worker: sends never block even if every worker fails.
	errCh := make(chan error, max(len(workers), 1))

	running := make([]runningWorker, 0, len(workers))
	for _, w := range workers {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if runErr := w.run(runCtx); runErr != nil {
				errCh <- fmt.Errorf("%s failed: %w", w.name, runErr)
			}
		}()
		logger.InfoContext(runCtx, "background service started", "service", w.name, "mode", w.mode)
		running = append(running, runningWorker{name: w.name, done: done})
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down services...")
	case runErr = <-errCh:
		logger.Error("service error", "error", runErr)
	}

	cancel()
	for _, rw := range running {
		select {
		case <-rw.done:
			logger.Info(rw.name + " stopped")
		case <-time.After(shutdownWaitTimeout):
			logger.Warn("timeout waiting for " + rw.name + " to stop")
		}
	}
	return runErr
}
