package config

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/draftea/order-system/orders-service/application"
	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/orders-service/handlers"
	"github.com/draftea/order-system/orders-service/infrastructure"
	"github.com/draftea/order-system/shared/events"
	sharedinfra "github.com/draftea/order-system/shared/infrastructure"
	"github.com/draftea/order-system/shared/saga"
	"github.com/draftea/order-system/shared/telemetry"
)

const lockPrefix = "orders:lock:"

type Dependencies struct {
	Config *Config
	Logger zerolog.Logger

	// Infrastructure
	DB                *sqlx.DB
	Redis             *redis.Client
	Telemetry         *telemetry.Telemetry
	EventPublisher    events.Publisher
	EventSubscriber   *sharedinfra.SQSEventSubscriber
	kafkaPublisher    *sharedinfra.KafkaEventPublisher
	telemetryShutdown func()

	// Repositories
	OrderRepository *infrastructure.PostgresOrderRepository
	SagaLog         *infrastructure.PostgresSagaLog

	// Use Cases
	StateMachine        *domain.StateMachine
	OrderSaga           *application.OrderSaga
	CreateOrder         *application.CreateOrderUseCase
	UpdateOrderStatus   *application.UpdateOrderStatusUseCase
	GetValidTransitions *application.GetValidTransitionsUseCase
	CancelOrder         *application.CancelOrderUseCase
	CreateRefund        *application.CreateRefundUseCase
	OrderQueries        *application.OrderQueries
	RecoverSagas        *application.RecoverSagasUseCase
	ProcessOrderEvents  *application.ProcessOrderEventsUseCase

	// Handlers
	OrderHandlers      *handlers.OrderHandlers
	OrderEventHandlers *handlers.OrderEventHandlers
}

// BuildDependencies connects to every backing service and wires the use cases.
// On error everything opened so far is closed.
func BuildDependencies(ctx context.Context, cfg *Config, logger zerolog.Logger) (deps *Dependencies, err error) {
	deps = &Dependencies{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = deps.Close()
		}
	}()

	tel, shutdown, err := telemetry.InitTelemetry(ctx, telemetry.OrdersServiceConfig.
		WithOTLPEndpoint(cfg.Telemetry.OTLPEndpoint).
		WithVersion(cfg.Telemetry.Version))
	if err != nil {
		return deps, errors.Wrap(err, "failed to initialize telemetry")
	}
	deps.Telemetry = tel
	deps.telemetryShutdown = shutdown

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return deps, err
	}
	deps.DB = db

	if cfg.Database.AutoMigrate {
		if err := infrastructure.Migrate(db); err != nil {
			return deps, errors.Wrap(err, "failed to run migrations")
		}
	}

	var locker saga.Locker = saga.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			return deps, errors.Wrap(err, "failed to ping redis")
		}
		locker = infrastructure.NewRedisLocker(deps.Redis, lockPrefix, cfg.Saga.LockTTL)
	}

	if err := deps.buildEvents(ctx, cfg, logger); err != nil {
		return deps, err
	}

	sagaOptions, err := SagaOptions(cfg.Saga)
	if err != nil {
		return deps, err
	}

	deps.OrderRepository = infrastructure.NewPostgresOrderRepository(db)
	deps.SagaLog = infrastructure.NewPostgresSagaLog(db)

	httpClient := &http.Client{Transport: http.DefaultTransport}
	inventory := infrastructure.NewHTTPInventoryService(serviceConfig(cfg.Services.Inventory, cfg), httpClient)
	shipping := infrastructure.NewHTTPShippingService(serviceConfig(cfg.Services.Shipping, cfg), httpClient)
	tax := infrastructure.NewHTTPTaxService(serviceConfig(cfg.Services.Tax, cfg), httpClient)
	payments := infrastructure.NewHTTPPaymentGateway(serviceConfig(cfg.Services.Payment, cfg), httpClient)

	deps.StateMachine = domain.NewStateMachine(logger)
	deps.OrderSaga = application.NewOrderSaga(application.OrderSagaDependencies{
		Repository:   deps.OrderRepository,
		Inventory:    inventory,
		Shipping:     shipping,
		Tax:          tax,
		Payments:     payments,
		StateMachine: deps.StateMachine,
		Log:          deps.SagaLog,
		Locker:       locker,
		Publisher:    deps.EventPublisher,
		Logger:       logger,
		Options:      sagaOptions,
	})

	deps.CreateOrder = application.NewCreateOrderUseCase(deps.OrderSaga, deps.SagaLog, deps.OrderRepository, logger)
	deps.UpdateOrderStatus = application.NewUpdateOrderStatusUseCase(deps.OrderRepository, deps.SagaLog, deps.StateMachine, deps.EventPublisher, logger)
	deps.GetValidTransitions = application.NewGetValidTransitionsUseCase(deps.OrderRepository, deps.StateMachine)
	deps.CancelOrder = application.NewCancelOrderUseCase(deps.OrderRepository, deps.SagaLog, inventory, payments, deps.StateMachine, deps.EventPublisher, logger)
	deps.CreateRefund = application.NewCreateRefundUseCase(deps.OrderRepository, deps.SagaLog, payments, deps.StateMachine, deps.EventPublisher, logger)
	deps.OrderQueries = application.NewOrderQueries(deps.OrderRepository, deps.SagaLog)
	deps.RecoverSagas = application.NewRecoverSagasUseCase(deps.OrderSaga, deps.SagaLog,
		cfg.Saga.RecoveryBatchSize, cfg.Saga.RecoveryConcurrency, logger)
	deps.ProcessOrderEvents = application.NewProcessOrderEventsUseCase(deps.OrderRepository, deps.SagaLog, deps.StateMachine, deps.EventPublisher, logger)

	deps.OrderHandlers = handlers.NewOrderHandlers(
		deps.CreateOrder,
		deps.UpdateOrderStatus,
		deps.GetValidTransitions,
		deps.CancelOrder,
		deps.CreateRefund,
		deps.OrderQueries,
	)
	deps.OrderEventHandlers = handlers.NewOrderEventHandlers(deps.ProcessOrderEvents, logger)

	if cfg.Events.AWS.SQSQueueURL != "" {
		awsCfg, err := sharedinfra.LoadAWSConfig(ctx, awsConfig(cfg))
		if err != nil {
			return deps, err
		}
		deps.EventSubscriber = sharedinfra.NewSQSEventSubscriber(
			sharedinfra.NewSQSClient(awsCfg),
			cfg.Events.AWS.SQSQueueURL,
			deps.OrderEventHandlers,
			logger,
			sharedinfra.WithWorkers(cfg.Events.AWS.SQSWorkers),
		)
	}

	return deps, nil
}

func (d *Dependencies) buildEvents(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	switch cfg.Events.Transport {
	case "kafka":
		d.kafkaPublisher = sharedinfra.NewKafkaEventPublisher(
			sharedinfra.NewKafkaWriter(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic), logger)
		d.EventPublisher = d.kafkaPublisher
	default:
		awsCfg, err := sharedinfra.LoadAWSConfig(ctx, awsConfig(cfg))
		if err != nil {
			return err
		}
		d.EventPublisher = sharedinfra.NewSNSEventPublisher(sharedinfra.NewSNSClient(awsCfg), cfg.Events.AWS.SNSTopicArn, logger)
	}
	return nil
}

// OpenDatabase connects to Postgres and applies the pool limits
func OpenDatabase(ctx context.Context, cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	return db, nil
}

// SagaOptions turns the saga section into orchestrator options
func SagaOptions(cfg Saga) ([]saga.Option, error) {
	opts := []saga.Option{
		saga.WithRetryPolicy(saga.RetryPolicy{
			MaxAttempts:   cfg.MaxAttempts,
			BaseDelay:     cfg.BaseDelay,
			MaxDelay:      cfg.MaxDelay,
			JitterPercent: 10,
		}),
		saga.WithStepTimeout(cfg.StepTimeout),
	}

	if cfg.TransientExpression != "" {
		classifier, err := saga.NewCELClassifier(cfg.TransientExpression, saga.DefaultClassifier)
		if err != nil {
			return nil, errors.Wrap(err, "invalid saga.transient_expression")
		}
		opts = append(opts, saga.WithClassifier(classifier))
	}
	return opts, nil
}

func serviceConfig(baseURL string, cfg *Config) infrastructure.ServiceConfig {
	return infrastructure.ServiceConfig{BaseURL: baseURL, Timeout: cfg.Services.Timeout}
}

func awsConfig(cfg *Config) sharedinfra.AWSConfig {
	return sharedinfra.AWSConfig{Region: cfg.Events.AWS.Region, Endpoint: cfg.Events.AWS.Endpoint}
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.EventSubscriber != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.Config.Service.ShutdownTimeout)
		if err := d.EventSubscriber.Stop(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to stop event subscriber"))
		}
		cancel()
	}

	if d.kafkaPublisher != nil {
		if err := d.kafkaPublisher.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close kafka publisher"))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close redis"))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close database"))
		}
	}

	if d.telemetryShutdown != nil {
		d.telemetryShutdown()
	}

	if len(errs) > 0 {
		return errors.Errorf("errors closing dependencies: %v", errs)
	}
	return nil
}
