package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/adapters/reaper"
	"github.com/target/inkwell/internal/adapters/trigger"
	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/observability/metrics"
	"github.com/target/inkwell/internal/observability/notify/slack"
	"github.com/target/inkwell/internal/service"
	"github.com/target/inkwell/internal/service/failurenotifier"
)

// Repositories groups the storage ports the services depend on.
type Repositories struct {
	Jobs        core.JobRepository
	Issues      core.IssueRepository
	Deliveries  core.DeliveryRepository
	Preferences core.PreferencesRepository
	Events      core.EmailEventRepository
	Reaper      core.ReaperRepository
}

// PostgresRepositories builds the Postgres-backed repositories.
func PostgresRepositories(db *sql.DB, clock data.TimeProvider, logger *slog.Logger) *Repositories {
	repoCfg := data.RepoConfig{Logger: logger, TimeProvider: clock}
	jobs := data.NewJobRepo(db, repoCfg)
	return &Repositories{
		Jobs:        jobs,
		Issues:      data.NewIssueRepo(db, repoCfg),
		Deliveries:  data.NewDeliveryRepo(db, repoCfg),
		Preferences: data.NewPreferencesRepo(db),
		Events:      data.NewEmailEventRepo(db, repoCfg),
		Reaper:      jobs,
	}
}

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Dispatcher     *service.Dispatcher
	Generation     *service.GenerationWorker
	Send           *service.SendWorker
	Jobs           *service.JobService
	Editor         *service.EditorService
	DeliveryEvents *service.DeliveryEventService

	Repos           *Repositories
	Clock           data.TimeProvider
	Metrics         *metrics.Recorder
	Registry        *prometheus.Registry
	FailureNotifier *failurenotifier.Service
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// Optional overrides. Nil Repos builds Postgres repositories from DB;
	// nil Generator and Sender build the configured provider adapters.
	Repos        *Repositories
	Generator    core.ContentGenerator
	Sender       core.EmailSender
	TimeProvider data.TimeProvider
}

// NewServices wires the business services.
func NewServices(ctx context.Context, deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	repos := deps.Repos
	if repos == nil {
		if deps.DB == nil {
			return nil, errors.New("database connection is required")
		}
		repos = PostgresRepositories(deps.DB, clock, logger)
	}

	generator := deps.Generator
	if generator == nil {
		gen, err := NewContentGenerator(ctx, cfg.AI, logger.With("component", "genai"))
		if err != nil {
			return nil, err
		}
		generator = gen
	}
	sender := deps.Sender
	if sender == nil {
		s, err := NewEmailSender(ctx, cfg.Email, logger.With("component", "mailgun"))
		if err != nil {
			return nil, err
		}
		sender = s
	}
	locker, err := NewLocker(deps.RedisClient)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)
	notifier := buildFailureNotifier(logger, cfg.Observability.Notifications)

	c := &ServiceContainer{
		Repos:           repos,
		Clock:           clock,
		Metrics:         recorder,
		Registry:        registry,
		FailureNotifier: notifier,
		Jobs: service.MustNewJobService(service.JobServiceOptions{
			Jobs:       repos.Jobs,
			Issues:     repos.Issues,
			Deliveries: repos.Deliveries,
			Logger:     logger,
		}),
	}

	if c.Dispatcher, err = service.NewDispatcher(service.DispatcherOptions{
		Jobs:         repos.Jobs,
		Issues:       repos.Issues,
		Deliveries:   repos.Deliveries,
		TimeProvider: clock,
		Config:       cfg.Dispatch,
		Locker:       locker,
		Metrics:      recorder,
		Logger:       logger,
	}); err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	workerDeps := service.WorkerDeps{
		Jobs:            repos.Jobs,
		TimeProvider:    clock,
		Metrics:         recorder,
		FailureNotifier: notifier,
		Logger:          logger,
	}
	genCfg := generationConfig(cfg)

	if c.Generation, err = service.NewGenerationWorker(service.GenerationWorkerOptions{
		WorkerDeps:  workerDeps,
		Issues:      repos.Issues,
		Preferences: repos.Preferences,
		Generator:   generator,
		Config:      genCfg,
	}); err != nil {
		return nil, fmt.Errorf("create generation worker: %w", err)
	}

	if c.Send, err = service.NewSendWorker(service.SendWorkerOptions{
		WorkerDeps:  workerDeps,
		Issues:      repos.Issues,
		Deliveries:  repos.Deliveries,
		Preferences: repos.Preferences,
		Sender:      sender,
		Config:      sendConfig(cfg),
	}); err != nil {
		return nil, fmt.Errorf("create send worker: %w", err)
	}

	if c.Editor, err = service.NewEditorService(service.EditorServiceOptions{
		Issues:       repos.Issues,
		Preferences:  repos.Preferences,
		Generator:    generator,
		Config:       genCfg,
		TimeProvider: clock,
		Logger:       logger,
	}); err != nil {
		return nil, fmt.Errorf("create editor service: %w", err)
	}

	if c.DeliveryEvents, err = service.NewDeliveryEventService(service.DeliveryEventServiceOptions{
		Events:       repos.Events,
		Deliveries:   repos.Deliveries,
		TimeProvider: clock,
		Metrics:      recorder,
		Logger:       logger,
	}); err != nil {
		return nil, fmt.Errorf("create delivery event service: %w", err)
	}

	return c, nil
}

func generationConfig(cfg *config.AppConfig) service.GenerationConfig {
	return service.GenerationConfig{
		Timeout:     cfg.Worker.AITimeout,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Model:       cfg.AI.Model,
	}
}

func sendConfig(cfg *config.AppConfig) service.SendConfig {
	return service.SendConfig{
		BatchSize:    cfg.Worker.SendBatchSize,
		PaceInterval: cfg.Worker.SendPaceInterval,
		Timeout:      cfg.Worker.EmailTimeout,
		FromName:     cfg.Email.FromName,
		FromAddress:  cfg.Email.FromAddress,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: logger})
	}

	var sinks []failurenotifier.SinkRegistration
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:     cfg.Slack.WebhookURL,
			Channel:        cfg.Slack.Channel,
			Username:       cfg.Slack.Username,
			Timeout:        cfg.Timeout,
			RetryLimit:     cfg.RetryLimit,
			IssueURLPrefix: cfg.Slack.IssueURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:  logger,
		Sinks:   sinks,
		Timeout: cfg.Timeout,
	})
}

// RunConfig contains configuration for RunServices.
type RunConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// backgroundService describes a startable component bound to a service mode.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

func buildBackgroundServices(cfg *RunConfig) ([]backgroundService, error) {
	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return nil, fmt.Errorf("determine enabled services: %w", err)
	}

	var out []backgroundService
	if enabled[config.ServiceModeHTTP] {
		srv := NewHTTPServer(cfg.Config, cfg.Services, cfg.Logger)
		out = append(out, backgroundService{
			mode: config.ServiceModeHTTP,
			name: "http server",
			start: func(ctx context.Context) error {
				return ServeHTTP(ctx, srv, cfg.Config.HTTP.ShutdownTimeout, cfg.Logger)
			},
		})
	}
	if enabled[config.ServiceModeTrigger] {
		runner, err := trigger.NewRunner(trigger.RunnerOptions{
			Dispatcher: cfg.Services.Dispatcher,
			Generation: cfg.Services.Generation,
			Send:       cfg.Services.Send,
			Config:     cfg.Config.Trigger,
			Logger:     cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create trigger runner: %w", err)
		}
		out = append(out, backgroundService{mode: config.ServiceModeTrigger, name: "trigger", start: runner.Run})
	}
	if enabled[config.ServiceModeReaper] {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			Repo:         cfg.Services.Repos.Reaper,
			TimeProvider: cfg.Services.Clock,
			Config:       cfg.Config.Reaper,
			Logger:       cfg.Logger,
			Metrics:      cfg.Services.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("create reaper runner: %w", err)
		}
		out = append(out, backgroundService{mode: config.ServiceModeReaper, name: "reaper", start: runner.Run})
	}
	return out, nil
}

// RunServices starts every enabled service and blocks until SIGINT/SIGTERM,
// ctx cancellation or the first service failure. The others are then
// stopped and waited for.
func RunServices(ctx context.Context, cfg *RunConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("run config requires AppConfig and services")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	services, err := buildBackgroundServices(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		g.Go(func() error {
			cfg.Logger.InfoContext(gctx, "background service started", "service", svc.name, "mode", svc.mode)
			if err := svc.start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s failed: %w", svc.name, err)
			}
			cfg.Logger.InfoContext(gctx, svc.name+" stopped")
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		cfg.Logger.Error("service error", "error", err)
	}
	return err
}
