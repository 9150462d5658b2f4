package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
	"ridesaga/internal/repository"
)

const completionServiceName = "ride-completion-service"

// PaymentOutcome is the part of PaymentCompleted and PaymentFailed the finalizer acts on.
type PaymentOutcome struct {
	PaymentID     string
	RideID        string
	RiderID       string
	DriverID      string
	Amount        float64
	FailureReason string
	CorrelationID string
}

// PaymentOutcomeFromCompleted extracts the outcome of a successful payment.
func PaymentOutcomeFromCompleted(evt event.PaymentCompleted) PaymentOutcome {
	return PaymentOutcome{
		PaymentID:     evt.PaymentID,
		RideID:        evt.RideID,
		RiderID:       evt.RiderID,
		DriverID:      evt.DriverID,
		Amount:        evt.Amount,
		CorrelationID: evt.CorrelationID,
	}
}

// PaymentOutcomeFromFailed extracts the outcome of a failed payment.
func PaymentOutcomeFromFailed(evt event.PaymentFailed) PaymentOutcome {
	return PaymentOutcome{
		PaymentID:     evt.PaymentID,
		RideID:        evt.RideID,
		RiderID:       evt.RiderID,
		DriverID:      evt.DriverID,
		Amount:        evt.Amount,
		FailureReason: evt.FailureReason,
		CorrelationID: evt.CorrelationID,
	}
}

// CompletionResult describes what the finalizer changed.
type CompletionResult struct {
	Success        bool
	RideStatus     domain.RideStatus
	RideUpdated    bool
	RideNotFound   bool
	DriverReleased bool
	Skipped        bool
}

// RideCompletionService moves rides to their terminal status once payment settles
// and hands the driver back to the pool.
type RideCompletionService struct {
	rideRepo   repository.RideRepository
	driverRepo repository.DriverRepository
	notifier   Notifier
	logger     *logrus.Entry
}

// NewRideCompletionService creates a new RideCompletionService. notifier may be nil.
func NewRideCompletionService(
	rideRepo repository.RideRepository,
	driverRepo repository.DriverRepository,
	notifier Notifier,
	logger logrus.FieldLogger,
) *RideCompletionService {
	return &RideCompletionService{
		rideRepo:   rideRepo,
		driverRepo: driverRepo,
		notifier:   notifier,
		logger:     logging.ForService(logger, completionServiceName),
	}
}

// HandlePaymentCompleted completes the ride.
func (s *RideCompletionService) HandlePaymentCompleted(ctx context.Context, evt event.PaymentCompleted) (*CompletionResult, error) {
	return s.Finalize(ctx, event.TypePaymentCompleted, PaymentOutcomeFromCompleted(evt))
}

// HandlePaymentFailed marks the ride payment_failed.
func (s *RideCompletionService) HandlePaymentFailed(ctx context.Context, evt event.PaymentFailed) (*CompletionResult, error) {
	return s.Finalize(ctx, event.TypePaymentFailed, PaymentOutcomeFromFailed(evt))
}

// Finalize applies a payment outcome.
//
// The ride transition and the driver reset are independent updates. A missing ride is benign.
// Any other ride failure is returned before the driver is touched. A driver failure is always
// returned so redelivery can reconcile the driver; the ride transition is safe to repeat.
func (s *RideCompletionService) Finalize(ctx context.Context, detailType string, outcome PaymentOutcome) (*CompletionResult, error) {
	target, err := targetRideStatus(detailType)
	if err != nil {
		return nil, err
	}
	if outcome.PaymentID == "" {
		return nil, ErrInvalidPaymentID
	}
	if outcome.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if outcome.DriverID == "" {
		return nil, ErrInvalidDriverID
	}

	log := s.logger.WithFields(logrus.Fields{
		logging.FieldPaymentID:     outcome.PaymentID,
		logging.FieldRideID:        outcome.RideID,
		logging.FieldDriverID:      outcome.DriverID,
		logging.FieldCorrelationID: outcome.CorrelationID,
		logging.FieldDetailType:    detailType,
	})

	result := &CompletionResult{RideStatus: target}

	if outcome.RiderID == domain.SentinelRiderID || outcome.DriverID == domain.SentinelDriverID {
		log.Info("skipping test payment")
		result.Success = true
		result.Skipped = true
		return result, nil
	}

	err = s.rideRepo.UpdateStatus(ctx, outcome.RideID, target)
	switch {
	case err == nil:
		result.RideUpdated = true
	case errors.Is(err, repository.ErrNotFound):
		log.Warn("ride not found, resetting driver only")
		result.RideNotFound = true
	case errors.Is(err, repository.ErrTerminalStatus):
		log.Info("ride already final")
	default:
		return nil, fmt.Errorf("update ride %s: %w", outcome.RideID, err)
	}

	if err := s.driverRepo.UpdateStatus(ctx, outcome.DriverID, domain.DriverStatusAvailable); err != nil {
		return result, fmt.Errorf("release driver %s: %w", outcome.DriverID, err)
	}
	result.DriverReleased = true
	result.Success = true

	s.notify(ctx, target, outcome, log)

	log.WithFields(logrus.Fields{
		"ride_status":    target,
		"ride_updated":   result.RideUpdated,
		"ride_not_found": result.RideNotFound,
	}).Info("ride finalized")

	return result, nil
}

func (s *RideCompletionService) notify(ctx context.Context, status domain.RideStatus, outcome PaymentOutcome, log *logrus.Entry) {
	if s.notifier == nil {
		return
	}

	var err error
	if status == domain.RideStatusCompleted {
		err = s.notifier.NotifyRideCompleted(ctx, outcome)
	} else {
		err = s.notifier.NotifyPaymentFailed(ctx, outcome)
	}
	if err != nil {
		newrelic.FromContext(ctx).NoticeError(err)
		log.WithError(err).Warn("rider notification failed")
	}
}

func targetRideStatus(detailType string) (domain.RideStatus, error) {
	switch detailType {
	case event.TypePaymentCompleted:
		return domain.RideStatusCompleted, nil
	case event.TypePaymentFailed:
		return domain.RideStatusPaymentFailed, nil
	default:
		return "", fmt.Errorf("%w: %s", event.ErrUnexpectedType, detailType)
	}
}
