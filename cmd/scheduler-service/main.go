package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/scheduler-be/internal/config"
	"github.com/cuongbtq/scheduler-be/internal/consumer"
	"github.com/cuongbtq/scheduler-be/internal/events"
	"github.com/cuongbtq/scheduler-be/internal/handler"
	"github.com/cuongbtq/scheduler-be/internal/joblog"
	"github.com/cuongbtq/scheduler-be/internal/scanner"
	"github.com/cuongbtq/scheduler-be/internal/scheduler"
	"github.com/cuongbtq/scheduler-be/internal/storage"
	"github.com/cuongbtq/scheduler-be/internal/tasks"
	"github.com/cuongbtq/scheduler-be/internal/worker"
	"github.com/cuongbtq/scheduler-be/shared/logger"
	"github.com/cuongbtq/scheduler-be/shared/postgresql"
	"github.com/cuongbtq/scheduler-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateSchedulerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Resolve the trigger timezone
	location := time.Local
	if cfg.Scheduler.Timezone != "" {
		location, err = time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("invalid scheduler timezone: %w", err)
		}
	}

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Control channel in, events exchange out
	controlClient, err := initRabbitMQ(cfg, &cfg.RabbitMQ.Control, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ control client: %w", err)
	}

	eventsClient, err := initRabbitMQ(cfg, &cfg.RabbitMQ.Events, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ events client: %w", err)
	}

	appLogger.Info("RabbitMQ connections established")

	store := storage.NewStore(dbClient, appLogger.Logger)
	publisher := events.NewRabbitPublisher(eventsClient, appLogger.Logger)

	// Job log plumbing: live broker plus durable per-job files
	broker := joblog.NewBroker(cfg.Scheduler.LogBatchWindow, appLogger.Logger)
	recorder, err := joblog.NewRecorder(cfg.Scheduler.JobLogDir, broker)
	if err != nil {
		return fmt.Errorf("failed to initialize job log recorder: %w", err)
	}

	// Handler registry and execution envelope
	registry := handler.NewRegistry()
	if err := tasks.RegisterBuiltins(registry, store, appLogger.Logger); err != nil {
		return fmt.Errorf("failed to register builtin handlers: %w", err)
	}

	appLogger.Info("Handlers registered",
		slog.Any("refs", registry.List()),
	)

	envelope := handler.NewEnvelope(registry, store, recorder, publisher, appLogger.Logger)

	// Worker pool, queue scanner, live trigger table
	pool := worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueDepth, appLogger.Logger)
	queueScanner := scanner.New(store, envelope, pool, publisher, cfg.Scheduler.ScanInterval, appLogger.Logger)
	cronScheduler := scheduler.New(store, envelope, publisher, location, appLogger.Logger)
	controlConsumer := consumer.New(controlClient, store, cronScheduler, envelope, pool, publisher, cfg.RabbitMQ.Consumer.PrefetchCount, appLogger.Logger)

	// Root context canceled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The pool must not follow the shutdown signal: jobs already flipped
	// to RUNNING have lost their pending entries, so buffered tasks have
	// to drain through pool.Stop below rather than be dropped.
	pool.Start(context.WithoutCancel(ctx))

	if err := cronScheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return broker.Run(gctx) })
	g.Go(func() error { return queueScanner.Run(gctx) })
	g.Go(func() error { return controlConsumer.Run(gctx) })

	appLogger.Info("Scheduler service is running",
		slog.Duration("scan_interval", cfg.Scheduler.ScanInterval),
		slog.Int("pool_size", cfg.Worker.PoolSize),
		slog.String("timezone", location.String()),
	)

	runErr := g.Wait()

	appLogger.Info("Shutting down scheduler service...")

	cronScheduler.Stop()

	// Give in-flight handlers time to finish
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker pool stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker pool shutdown timeout exceeded, forcing exit")
	}

	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if controlClient != nil {
			controlClient.Close()
		}
		if eventsClient != nil {
			eventsClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Scheduler service shutdown complete")

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes a RabbitMQ client for one binding
func initRabbitMQ(cfg *config.Config, binding *config.BindingConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.RabbitMQ.Host,
		Port:               cfg.RabbitMQ.Port,
		User:               cfg.RabbitMQ.User,
		Password:           cfg.RabbitMQ.Password,
		VHost:              cfg.RabbitMQ.VHost,
		ExchangeName:       binding.Exchange.Name,
		ExchangeType:       binding.Exchange.Type,
		ExchangeDurable:    binding.Exchange.Durable,
		ExchangeAutoDelete: binding.Exchange.AutoDelete,
		QueueName:          binding.Queue.Name,
		QueueDurable:       binding.Queue.Durable,
		QueueAutoDelete:    binding.Queue.AutoDelete,
		QueueExclusive:     binding.Queue.Exclusive,
		RoutingKey:         binding.RoutingKey,
		RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
		PublishRetries:     cfg.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.RabbitMQ.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
