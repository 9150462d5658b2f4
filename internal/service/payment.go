package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/gateway"
	"ridesaga/internal/logging"
	"ridesaga/internal/redis"
	"ridesaga/internal/repository"
)

const paymentServiceName = "payment-processor"

// PaymentOptions tunes the payment processor.
type PaymentOptions struct {
	// IdempotencyTTL is how long a completed result is replayed for.
	IdempotencyTTL time.Duration

	// InProgressTTL bounds how long a crashed invocation can block its fingerprint.
	InProgressTTL time.Duration

	// GatewayTimeout caps a single charge. Zero means no cap.
	GatewayTimeout time.Duration
}

// DefaultPaymentOptions returns the default payment options.
func DefaultPaymentOptions() PaymentOptions {
	return PaymentOptions{
		IdempotencyTTL: 2 * time.Hour,
		InProgressTTL:  30 * time.Second,
	}
}

// PaymentResult is the outcome of processing one DriverAssigned event.
// It is what the idempotency store replays for duplicate deliveries.
type PaymentResult struct {
	Success          bool                 `json:"success"`
	PaymentID        string               `json:"paymentId"`
	RideID           string               `json:"rideId"`
	Status           domain.PaymentStatus `json:"status"`
	Amount           float64              `json:"amount"`
	TransactionID    string               `json:"transactionId,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`

	// Cached is true when the result came from the idempotency store.
	Cached bool `json:"-"`
}

// PaymentService charges riders once per driver assignment.
type PaymentService struct {
	paymentRepo repository.PaymentRepository
	idempotency redis.IdempotencyStoreInterface
	gateway     gateway.Gateway
	opts        PaymentOptions
	logger      *logrus.Entry
	now         func() time.Time
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	idempotency redis.IdempotencyStoreInterface,
	gw gateway.Gateway,
	opts PaymentOptions,
	logger logrus.FieldLogger,
) *PaymentService {
	defaults := DefaultPaymentOptions()
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if opts.InProgressTTL <= 0 {
		opts.InProgressTTL = defaults.InProgressTTL
	}
	return &PaymentService{
		paymentRepo: paymentRepo,
		idempotency: idempotency,
		gateway:     gw,
		opts:        opts,
		logger:      logging.ForService(logger, paymentServiceName),
		now:         time.Now,
	}
}

// Fingerprint derives the deduplication key for a DriverAssigned event.
// It covers the assignment only, so a re-sent event with a different quote still maps to the same charge.
func Fingerprint(evt event.DriverAssigned) string {
	sum := sha256.Sum256([]byte(evt.RideID + "|" + evt.DriverID))
	return hex.EncodeToString(sum[:])
}

// HandleDriverAssigned processes the payment for an assignment with idempotency support.
//
// A declined charge is a business outcome: it is recorded on the payment row, cached and returned without error.
// Errors before the gateway answers release the fingerprint so a retry can run.
// Once the gateway has answered, the outcome is kept and a retry only re-applies it to the payment row.
func (s *PaymentService) HandleDriverAssigned(ctx context.Context, evt event.DriverAssigned) (*PaymentResult, error) {
	if evt.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if evt.DriverID == "" {
		return nil, ErrInvalidDriverID
	}
	if evt.EstimatedPrice <= 0 {
		return nil, ErrInvalidPaymentAmount
	}

	fingerprint := Fingerprint(evt)
	log := s.logger.WithFields(logrus.Fields{
		logging.FieldRideID:        evt.RideID,
		logging.FieldDriverID:      evt.DriverID,
		logging.FieldCorrelationID: evt.CorrelationID,
	})

	// Check for an earlier result.
	record, err := s.idempotency.Get(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	if record != nil {
		switch record.Status {
		case redis.IdempotencyCompleted:
			var cached PaymentResult
			if err := json.Unmarshal(record.Result, &cached); err != nil {
				return nil, fmt.Errorf("decode cached payment result: %w", err)
			}
			cached.Cached = true
			log.WithField(logging.FieldPaymentID, cached.PaymentID).Info("returning cached payment result")
			return &cached, nil
		case redis.IdempotencyCharged:
			var charged PaymentResult
			if err := json.Unmarshal(record.Result, &charged); err != nil {
				return nil, fmt.Errorf("decode charged payment result: %w", err)
			}
			log.WithField(logging.FieldPaymentID, charged.PaymentID).Info("gateway already answered, recording outcome")
			return s.settle(ctx, fingerprint, &charged, log)
		default:
			return nil, ErrPaymentInProgress
		}
	}

	acquired, err := s.idempotency.Begin(ctx, fingerprint, s.opts.InProgressTTL)
	if err != nil {
		return nil, fmt.Errorf("claim idempotency record: %w", err)
	}
	if !acquired {
		return nil, ErrPaymentInProgress
	}

	result, err := s.charge(ctx, evt, log)
	if err != nil {
		if abandonErr := s.idempotency.Abandon(ctx, fingerprint); abandonErr != nil {
			log.WithError(abandonErr).Warn("failed to release idempotency record")
		}
		return nil, err
	}

	data, err := json.Marshal(result)
	if err == nil {
		err = s.idempotency.Charged(ctx, fingerprint, data, s.opts.IdempotencyTTL)
	}
	if err != nil {
		// Only the in-progress record guards the fingerprint now, until InProgressTTL.
		newrelic.FromContext(ctx).NoticeError(err)
		log.WithError(err).Error("failed to record gateway outcome")
	}

	return s.settle(ctx, fingerprint, result, log)
}

// charge creates the processing row and asks the gateway. The returned result is not yet on the row.
func (s *PaymentService) charge(ctx context.Context, evt event.DriverAssigned, log *logrus.Entry) (*PaymentResult, error) {
	start := s.now()

	paymentMethod := evt.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = domain.DefaultPaymentMethod
	}

	payment := &domain.Payment{
		ID:            uuid.New().String(),
		RideID:        evt.RideID,
		RiderID:       evt.RiderID,
		DriverID:      evt.DriverID,
		Amount:        evt.EstimatedPrice,
		PaymentMethod: paymentMethod,
		Status:        domain.PaymentStatusProcessing,
		CorrelationID: evt.CorrelationID,
		CreatedAt:     start.UTC(),
		UpdatedAt:     start.UTC(),
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	chargeCtx := ctx
	if s.opts.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		chargeCtx, cancel = context.WithTimeout(ctx, s.opts.GatewayTimeout)
		defer cancel()
	}

	charge, err := s.gateway.Charge(chargeCtx, gateway.ChargeRequest{
		PaymentID:     payment.ID,
		RideID:        payment.RideID,
		Amount:        payment.Amount,
		PaymentMethod: payment.PaymentMethod,
	})
	if err != nil {
		// Row stays processing; the retry creates a fresh attempt.
		return nil, fmt.Errorf("charge payment %s: %w", payment.ID, err)
	}

	result := &PaymentResult{
		PaymentID: payment.ID,
		RideID:    payment.RideID,
		Amount:    payment.Amount,
	}
	if charge.Approved {
		result.Success = true
		result.Status = domain.PaymentStatusCompleted
		result.TransactionID = charge.TransactionID
	} else {
		result.Status = domain.PaymentStatusFailed
		result.ErrorMessage = charge.DeclineReason
	}
	result.ProcessingTimeMs = s.now().Sub(start).Milliseconds()

	log.WithFields(logrus.Fields{
		logging.FieldPaymentID: payment.ID,
		"approved":             charge.Approved,
		"latency_ms":           charge.Latency.Milliseconds(),
	}).Debug("gateway answered")

	return result, nil
}

// settle writes the gateway outcome to the payment row and caches the final result.
// Errors leave the outcome in place for the next delivery.
func (s *PaymentService) settle(ctx context.Context, fingerprint string, result *PaymentResult, log *logrus.Entry) (*PaymentResult, error) {
	if result.Success {
		if err := s.paymentRepo.Complete(ctx, result.PaymentID, result.TransactionID); err != nil {
			return nil, fmt.Errorf("complete payment %s: %w", result.PaymentID, err)
		}
	} else {
		if err := s.paymentRepo.Fail(ctx, result.PaymentID, result.ErrorMessage); err != nil {
			return nil, fmt.Errorf("fail payment %s: %w", result.PaymentID, err)
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode payment result: %w", err)
	}
	if err := s.idempotency.Complete(ctx, fingerprint, data, s.opts.IdempotencyTTL); err != nil {
		// The row is already final and a charged record, if any, still replays the outcome.
		newrelic.FromContext(ctx).NoticeError(err)
		log.WithError(err).Error("failed to store payment result")
	}

	log.WithFields(logrus.Fields{
		logging.FieldPaymentID: result.PaymentID,
		"status":               result.Status,
		"amount":               result.Amount,
	}).Info("payment processed")

	return result, nil
}
