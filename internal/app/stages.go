package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ridesaga/internal/bus"
	"ridesaga/internal/event"
	"ridesaga/internal/handler"
	"ridesaga/internal/repository/postgres"
	"ridesaga/internal/stream"
	"ridesaga/internal/worker"
)

// Stage names. Bus consumers read through a consumer group of the same name.
const (
	StageIntake        = "intake"
	StagePricing       = "pricing"
	StageMatcher       = "matcher"
	StagePayments      = "payments"
	StageStreamWatcher = "stream-watcher"
	StageFinalizer     = "finalizer"
	StageReconciler    = "reconciler"
)

// Stages lists every stage RunAll starts.
var Stages = []string{
	StageIntake,
	StagePricing,
	StageMatcher,
	StagePayments,
	StageStreamWatcher,
	StageFinalizer,
	StageReconciler,
}

// RunStage runs one stage until ctx is cancelled.
func (c *Container) RunStage(ctx context.Context, name string) error {
	switch name {
	case StageIntake:
		return c.runIntake(ctx)

	case StagePricing:
		pub, sub := c.Bus(name)
		sub.Subscribe(event.TypeRideCreated, handler.PricingEvents(c.PricingService(pub)))
		return c.consume(ctx, name, sub)

	case StageMatcher:
		pub, sub := c.Bus(name)
		sub.Subscribe(event.TypePriceCalculated, handler.MatchingEvents(c.MatchingService(pub)))
		return c.consume(ctx, name, sub)

	case StagePayments:
		_, sub := c.Bus(name)
		sub.Subscribe(event.TypeDriverAssigned, handler.PaymentEvents(c.PaymentService()))
		return c.consume(ctx, name, sub)

	case StageStreamWatcher:
		return c.runStreamWatcher(ctx)

	case StageFinalizer:
		_, sub := c.Bus(name)
		handler.CompletionEvents(sub, c.CompletionService())
		return c.consume(ctx, name, sub)

	case StageReconciler:
		pub, _ := c.Bus(name)
		reconciler := worker.NewRideReconciler(
			postgres.NewRideRepository(c.DB),
			postgres.NewPriceCalculationRepository(c.DB),
			pub,
			worker.ReconcilerOptions{
				Interval:     c.Config.Reconciler.Interval,
				StaleAfter:   c.Config.Reconciler.StaleAfter,
				BatchSize:    c.Config.Reconciler.BatchSize,
				RetryHorizon: c.Config.Bus.RetryHorizon(),
			},
			c.Logger,
			c.NewRelic,
		)
		c.Logger.WithField("stage", name).Info("reconciler started")
		return reconciler.Run(ctx)

	default:
		return fmt.Errorf("unknown stage %q", name)
	}
}

// RunAll runs every stage in this process. The first stage to fail stops the rest.
func (c *Container) RunAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range Stages {
		g.Go(func() error {
			if err := c.RunStage(gctx, name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Container) consume(ctx context.Context, name string, sub bus.Subscriber) error {
	c.Logger.WithField("stage", name).Info("consumer started")
	return sub.Run(ctx)
}

func (c *Container) runIntake(ctx context.Context) error {
	pub, _ := c.Bus(StageIntake)
	router := NewRouter(RouterDeps{
		RideHandler:  handler.NewRideHandler(c.RideService(pub)),
		RedisClient:  c.Redis,
		NewRelicApp:  c.NewRelic,
		AllowOrigins: c.Config.Server.AllowOrigins,
		Logger:       c.Logger,
	})

	server := &http.Server{
		Addr:         ":" + c.Config.Server.Port,
		Handler:      router,
		ReadTimeout:  c.Config.Server.ReadTimeout,
		WriteTimeout: c.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		c.Logger.WithField("port", c.Config.Server.Port).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	c.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	c.Logger.Info("server exited")
	return nil
}

func (c *Container) runStreamWatcher(ctx context.Context) error {
	pub, _ := c.Bus(StageStreamWatcher)
	cfg := c.Config.Stream

	listener, err := stream.Listen(c.Config.Database.DSN(), cfg.Channel, c.Logger)
	if err != nil {
		return err
	}

	var deadLetter stream.DeadLetterSink
	if c.Config.Bus.DeadLetterStream != "" {
		deadLetter = stream.NewRedisDeadLetter(c.Redis, c.Config.Bus.DeadLetterStream)
	}

	source := stream.NewPaymentChangeSource(
		listener,
		c.PaymentStreamService(pub),
		deadLetter,
		stream.Options{
			BatchSize:         cfg.BatchSize,
			BatchWindow:       cfg.BatchWindow,
			InvocationTimeout: cfg.InvocationTimeout,
			MaxAttempts:       cfg.MaxAttempts,
			RetryBackoff:      cfg.RetryBackoff,
		},
		c.Logger,
		c.NewRelic,
	)

	c.Logger.WithField("channel", cfg.Channel).Info("stream watcher started")
	return source.Run(ctx)
}
