// Package worker holds background loops that run beside the saga consumers.
package worker

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/bus"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
	"ridesaga/internal/repository"
	"ridesaga/internal/service"
)

// ReconcilerOptions tunes the reconciliation loop.
type ReconcilerOptions struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int

	// RetryHorizon is how long the bus keeps redelivering a RideCreated. StaleAfter never drops below it.
	RetryHorizon time.Duration
}

// RideReconciler re-publishes RideCreated for rides that never left requested and were never priced,
// which covers intake publishes that failed after the ride was stored.
type RideReconciler struct {
	rideRepo  repository.RideRepository
	priceRepo repository.PriceCalculationRepository
	publisher bus.Publisher
	opts      ReconcilerOptions
	logger    *logrus.Entry
	nrApp     *newrelic.Application
	now       func() time.Time
}

// NewRideReconciler creates a new RideReconciler.
func NewRideReconciler(
	rideRepo repository.RideRepository,
	priceRepo repository.PriceCalculationRepository,
	publisher bus.Publisher,
	opts ReconcilerOptions,
	logger logrus.FieldLogger,
	nrApp *newrelic.Application,
) *RideReconciler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.StaleAfter < opts.RetryHorizon {
		opts.StaleAfter = opts.RetryHorizon
	}
	return &RideReconciler{
		rideRepo:  rideRepo,
		priceRepo: priceRepo,
		publisher: publisher,
		opts:      opts,
		logger:    logging.ForService(logger, event.SourceRideReconciler),
		nrApp:     nrApp,
		now:       time.Now,
	}
}

// Run reconciles once per Interval until ctx is cancelled.
func (r *RideReconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.WithError(err).Error("reconciliation pass failed")
			}
		}
	}
}

// ReconcileOnce re-publishes one batch of stale requested rides and returns how many were sent.
func (r *RideReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	txn := r.nrApp.StartTransaction("ride-reconciler")
	defer txn.End()
	ctx = newrelic.NewContext(ctx, txn)

	rides, err := r.rideRepo.ListStaleRequested(ctx, r.now().Add(-r.opts.StaleAfter), r.opts.BatchSize)
	if err != nil {
		txn.NoticeError(err)
		return 0, err
	}

	sent := 0
	for _, ride := range rides {
		log := r.logger.WithFields(logrus.Fields{
			logging.FieldRideID:        ride.ID,
			logging.FieldCorrelationID: ride.CorrelationID,
		})

		// A priced ride is downstream of RideCreated; its own events carry it from here.
		calcs, err := r.priceRepo.ListByRide(ctx, ride.ID)
		if err != nil {
			txn.NoticeError(err)
			log.WithError(err).Warn("failed to check price calculations")
			continue
		}
		if len(calcs) > 0 {
			continue
		}

		if err := r.publisher.Publish(ctx, event.SourceRideReconciler, service.RideCreatedEvent(ride)); err != nil {
			txn.NoticeError(err)
			log.WithError(err).Warn("failed to re-publish RideCreated")
			continue
		}
		sent++
		log.Info("re-published RideCreated for stranded ride")
	}
	return sent, nil
}
