package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"ridesaga/internal/bus"
	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
)

// Change record event names.
const (
	ChangeInsert = "INSERT"
	ChangeModify = "MODIFY"
)

// ChangeRecord is one row-level change on the payments table.
// NewImage holds the new row keyed by column name.
type ChangeRecord struct {
	EventID   string
	EventName string
	NewImage  map[string]string
}

// PaymentStreamOptions tunes batch handling.
type PaymentStreamOptions struct {
	// MinRemaining fails a record when less time than this is left before the context deadline.
	MinRemaining time.Duration

	// PartialBatch reports failed records instead of failing the whole batch.
	PartialBatch bool
}

// BatchResult summarises one ProcessBatch call.
type BatchResult struct {
	BatchSize      int
	Successful     int
	Failed         int
	Skipped        int
	FailedEventIDs []string
}

// PaymentStreamService turns payment row changes into payment outcome events.
type PaymentStreamService struct {
	publisher bus.Publisher
	opts      PaymentStreamOptions
	logger    *logrus.Entry
	now       func() time.Time
}

// NewPaymentStreamService creates a new PaymentStreamService.
func NewPaymentStreamService(publisher bus.Publisher, opts PaymentStreamOptions, logger logrus.FieldLogger) *PaymentStreamService {
	return &PaymentStreamService{
		publisher: publisher,
		opts:      opts,
		logger:    logging.ForService(logger, event.SourcePaymentStream),
		now:       time.Now,
	}
}

// ProcessBatch handles a batch of change records.
//
// By default the first failing record fails the batch and the error is returned with the counts so far.
// In partial mode every record is attempted and the failed event ids are reported with a nil error.
func (s *PaymentStreamService) ProcessBatch(ctx context.Context, records []ChangeRecord) (*BatchResult, error) {
	result := &BatchResult{BatchSize: len(records)}

	for _, record := range records {
		published, err := s.processRecord(ctx, record)
		if err != nil {
			result.Failed++
			log := s.logger.WithError(err).WithField(logging.FieldEventID, record.EventID)
			if !s.opts.PartialBatch {
				log.WithFields(logrus.Fields{
					"batch_size": result.BatchSize,
					"successful": result.Successful,
					"skipped":    result.Skipped,
				}).Error("batch failed")
				return result, fmt.Errorf("record %s: %w", record.EventID, err)
			}
			log.Warn("record failed")
			result.FailedEventIDs = append(result.FailedEventIDs, record.EventID)
			continue
		}
		if published {
			result.Successful++
		} else {
			result.Skipped++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"batch_size": result.BatchSize,
		"successful": result.Successful,
		"failed":     result.Failed,
		"skipped":    result.Skipped,
	}).Info("batch complete")

	return result, nil
}

// processRecord returns true when an event was published and false when the record was skipped.
func (s *PaymentStreamService) processRecord(ctx context.Context, record ChangeRecord) (bool, error) {
	if deadline, ok := ctx.Deadline(); ok && deadline.Sub(s.now()) < s.opts.MinRemaining {
		return false, ErrInsufficientTime
	}

	image := record.NewImage
	if image == nil {
		return false, nil
	}

	paymentID := image["id"]
	if domain.IsPoison(paymentID) {
		return false, fmt.Errorf("%w: %s", ErrPoisonRecord, paymentID)
	}

	if image["rider_id"] == domain.SentinelRiderID {
		return false, nil
	}

	log := s.logger.WithFields(logrus.Fields{
		logging.FieldEventID:       record.EventID,
		logging.FieldPaymentID:     paymentID,
		logging.FieldRideID:        image["ride_id"],
		logging.FieldCorrelationID: image["correlation_id"],
	})

	var detail event.Detail
	switch domain.PaymentStatus(image["status"]) {
	case domain.PaymentStatusCompleted:
		amount, err := parseAmount(image["amount"])
		if err != nil {
			return false, err
		}
		detail = event.PaymentCompleted{
			PaymentID:     paymentID,
			RideID:        image["ride_id"],
			RiderID:       image["rider_id"],
			DriverID:      image["driver_id"],
			Amount:        amount,
			PaymentMethod: image["payment_method"],
			TransactionID: image["transaction_id"],
			Timestamp:     s.now().UTC(),
			CorrelationID: image["correlation_id"],
		}
	case domain.PaymentStatusFailed:
		// Amount is informational on failures.
		amount, _ := strconv.ParseFloat(image["amount"], 64)
		detail = event.PaymentFailed{
			PaymentID:     paymentID,
			RideID:        image["ride_id"],
			RiderID:       image["rider_id"],
			DriverID:      image["driver_id"],
			Amount:        amount,
			PaymentMethod: image["payment_method"],
			FailureReason: image["failure_reason"],
			Timestamp:     s.now().UTC(),
			CorrelationID: image["correlation_id"],
		}
	default:
		return false, nil
	}

	if err := s.publisher.Publish(ctx, event.SourcePaymentStream, detail); err != nil {
		return false, err
	}

	log.WithField(logging.FieldDetailType, detail.DetailType()).Info("record processed")
	return true, nil
}

func parseAmount(raw string) (float64, error) {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPaymentAmount, raw)
	}
	return amount, nil
}
