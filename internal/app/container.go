package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/bus"
	"ridesaga/internal/config"
	"ridesaga/internal/gateway"
	internalRedis "ridesaga/internal/redis"
	"ridesaga/internal/repository/postgres"
	"ridesaga/internal/secrets"
	"ridesaga/internal/service"
)

// Container holds the connections shared by every stage in the process.
type Container struct {
	Config   *config.Config
	Logger   *logrus.Logger
	NewRelic *newrelic.Application
	DB       *sql.DB
	Redis    *redis.Client

	aws    *aws.Config
	memory *bus.MemoryBus
}

// NewContainer connects to Postgres and Redis and loads AWS configuration when something needs it.
func NewContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// New Relic first so the database driver can be instrumented.
	nrApp := NewNewRelic(cfg.NewRelic, logger)

	db, err := NewDatabase(connectCtx, cfg.Database, nrApp)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	redisClient, err := NewRedisClient(connectCtx, cfg.Redis, nrApp)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to Redis")

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		NewRelic: nrApp,
		DB:       db,
		Redis:    redisClient,
	}

	if needsAWS(cfg) {
		awsCfg, err := NewAWSConfig(connectCtx, cfg.AWS)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.aws = &awsCfg
	}

	if cfg.Bus.Driver == "memory" {
		c.memory = bus.NewMemoryBus(logger)
	}

	return c, nil
}

// Close releases connections and flushes the New Relic agent.
func (c *Container) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if c.NewRelic != nil {
		c.NewRelic.Shutdown(5 * time.Second)
	}
}

// Bus returns the publisher and subscriber for one consumer group.
// With the memory driver every group shares one in-process bus.
func (c *Container) Bus(group string) (bus.Publisher, bus.Subscriber) {
	var (
		primary    bus.Publisher
		subscriber bus.Subscriber
	)
	if c.memory != nil {
		primary, subscriber = c.memory, c.memory
	} else {
		stream := bus.NewRedisStream(c.Redis, bus.RedisStreamOptions{
			BusName:          c.Config.Bus.Name,
			Stream:           c.Config.Bus.Stream,
			DeadLetterStream: c.Config.Bus.DeadLetterStream,
			Group:            group,
			Consumer:         c.Config.Bus.Consumer,
			MaxLen:           c.Config.Bus.MaxLen,
			BatchSize:        c.Config.Bus.BatchSize,
			BlockTimeout:     c.Config.Bus.BlockTimeout,
			RetryAfter:       c.Config.Bus.RetryAfter,
			MaxDeliveries:    c.Config.Bus.MaxDeliveries,
			HandlerTimeout:   c.Config.Bus.HandlerTimeout,
		}, c.Logger, c.NewRelic)
		primary, subscriber = stream, stream
	}

	if c.aws == nil || c.Config.Bus.EventBridgeBus == "" {
		return primary, subscriber
	}
	mirror := bus.NewEventBridgePublisher(eventbridge.NewFromConfig(*c.aws), c.Config.Bus.EventBridgeBus)
	return bus.NewFanoutPublisher(primary, c.Logger, mirror), subscriber
}

// RideService builds the intake service.
func (c *Container) RideService(publisher bus.Publisher) *service.RideService {
	return service.NewRideService(postgres.NewRideRepository(c.DB), publisher, c.Logger)
}

// PricingService builds the pricing stage.
func (c *Container) PricingService(publisher bus.Publisher) *service.PricingService {
	return service.NewPricingService(
		postgres.NewPriceCalculationRepository(c.DB),
		c.multiplierProvider(),
		publisher,
		service.PricingConfig{
			MinBasePrice: c.Config.Pricing.MinBasePrice,
			MaxBasePrice: c.Config.Pricing.MaxBasePrice,
		},
		c.Logger,
	)
}

func (c *Container) multiplierProvider() secrets.MultiplierProvider {
	if c.aws == nil || c.Config.Pricing.MultiplierSecretName == "" {
		return secrets.StaticProvider(c.Config.Pricing.StaticMultiplier)
	}
	provider := secrets.NewSecretsManagerProvider(
		secretsmanager.NewFromConfig(*c.aws),
		c.Config.Pricing.MultiplierSecretName,
	)
	return secrets.NewCachedProvider(provider, c.Config.Pricing.MultiplierCacheTTL)
}

// MatchingService builds the driver matcher.
func (c *Container) MatchingService(publisher bus.Publisher) *service.MatchingService {
	return service.NewMatchingService(
		postgres.NewRideRepository(c.DB),
		postgres.NewDriverRepository(c.DB),
		postgres.NewTransactor(c.DB),
		internalRedis.NewLockStore(c.Redis),
		publisher,
		service.NewDriverRanker(c.Config.Matching.Ranker),
		c.Config.Matching.RideLockTTL,
		c.Logger,
	)
}

// PaymentService builds the payment processor.
func (c *Container) PaymentService() *service.PaymentService {
	cfg := c.Config.Payment
	return service.NewPaymentService(
		postgres.NewPaymentRepository(c.DB),
		internalRedis.NewIdempotencyStore(c.Redis),
		gateway.NewSimulated(gateway.SimulatedOptions{
			FailureRate: cfg.FailureRate,
			MinLatency:  cfg.MinLatency,
			MaxLatency:  cfg.MaxLatency,
			SlowMethod:  cfg.SlowMethod,
			SlowLatency: cfg.SlowLatency,
		}),
		service.PaymentOptions{
			IdempotencyTTL: cfg.IdempotencyTTL,
			InProgressTTL:  cfg.InProgressTTL,
			GatewayTimeout: cfg.GatewayTimeout,
		},
		c.Logger,
	)
}

// PaymentStreamService builds the payment change processor.
func (c *Container) PaymentStreamService(publisher bus.Publisher) *service.PaymentStreamService {
	return service.NewPaymentStreamService(publisher, service.PaymentStreamOptions{
		MinRemaining: c.Config.Stream.MinRemaining,
		PartialBatch: c.Config.Stream.PartialBatch,
	}, c.Logger)
}

// CompletionService builds the ride finalizer.
func (c *Container) CompletionService() *service.RideCompletionService {
	var client service.SNSPublisher
	if c.aws != nil && c.Config.Notification.SNSTopicARN != "" {
		client = sns.NewFromConfig(*c.aws)
	}
	notifier := service.NewNotificationService(client, c.Config.Notification.SNSTopicARN, c.Logger)

	return service.NewRideCompletionService(
		postgres.NewRideRepository(c.DB),
		postgres.NewDriverRepository(c.DB),
		notifier,
		c.Logger,
	)
}

// DriverService builds the driver seeding service.
func (c *Container) DriverService() *service.DriverService {
	return service.NewDriverService(postgres.NewDriverRepository(c.DB), c.Logger)
}

// Migrate applies the database schema.
func (c *Container) Migrate(ctx context.Context) error {
	if err := postgres.Migrate(ctx, c.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
