// Package stream feeds payment row changes from Postgres into the payment stream processor.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/logging"
	"ridesaga/internal/service"
)

// ErrListenerClosed is returned by Run when the notification channel closes.
var ErrListenerClosed = errors.New("notification listener closed")

// Notifications is the part of *pq.Listener the source reads from.
type Notifications interface {
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// BatchProcessor handles one batch of change records.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []service.ChangeRecord) (*service.BatchResult, error)
}

// DeadLetterSink keeps records that exhausted their retries.
type DeadLetterSink interface {
	Write(ctx context.Context, records []service.ChangeRecord, reason string) error
}

// Options tunes batching and retries.
type Options struct {
	BatchSize         int
	BatchWindow       time.Duration
	InvocationTimeout time.Duration
	MaxAttempts       int
	RetryBackoff      time.Duration
}

// PaymentChangeSource batches payment change notifications and hands them to a BatchProcessor.
type PaymentChangeSource struct {
	listener   Notifications
	processor  BatchProcessor
	deadLetter DeadLetterSink
	opts       Options
	logger     *logrus.Entry
	nrApp      *newrelic.Application
}

// NewPaymentChangeSource creates a new PaymentChangeSource. deadLetter may be nil.
func NewPaymentChangeSource(
	listener Notifications,
	processor BatchProcessor,
	deadLetter DeadLetterSink,
	opts Options,
	logger logrus.FieldLogger,
	nrApp *newrelic.Application,
) *PaymentChangeSource {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &PaymentChangeSource{
		listener:   listener,
		processor:  processor,
		deadLetter: deadLetter,
		opts:       opts,
		logger:     logger.WithField(logging.FieldService, "payment-change-source"),
		nrApp:      nrApp,
	}
}

// Listen opens a pq.Listener on channel.
func Listen(dsn, channel string, logger logrus.FieldLogger) (*pq.Listener, error) {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).WithField("listener_event", ev).Warn("payment change listener event")
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return listener, nil
}

// Run reads notifications until ctx is cancelled. A batch is flushed when it is full or
// when BatchWindow has passed since its first record. The pending batch is flushed on shutdown.
func (s *PaymentChangeSource) Run(ctx context.Context) error {
	defer s.listener.Close()

	var batch []service.ChangeRecord
	window := time.NewTimer(s.opts.BatchWindow)
	window.Stop()
	defer window.Stop()

	drain := func(ctx context.Context) {
		window.Stop()
		s.flush(ctx, batch)
		batch = nil
	}

	notifications := s.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			drain(context.WithoutCancel(ctx))
			return nil

		case n, ok := <-notifications:
			if !ok {
				drain(context.WithoutCancel(ctx))
				return ErrListenerClosed
			}
			if n == nil {
				s.logger.Warn("payment change listener reconnected, notifications may have been missed")
				continue
			}
			record, err := ParseNotification(n.Extra)
			if err != nil {
				s.logger.WithError(err).Error("dropping unreadable payment change")
				continue
			}
			batch = append(batch, record)
			if len(batch) == 1 {
				window.Reset(s.opts.BatchWindow)
			}
			if len(batch) >= s.opts.BatchSize {
				drain(ctx)
			}

		case <-window.C:
			drain(ctx)
		}
	}
}

// flush runs the batch with retries. Records still failing after MaxAttempts are dead-lettered.
func (s *PaymentChangeSource) flush(ctx context.Context, records []service.ChangeRecord) {
	pending := records
	for attempt := 1; len(pending) > 0; attempt++ {
		result, err := s.invoke(ctx, pending)
		if err == nil {
			if len(result.FailedEventIDs) == 0 {
				return
			}
			pending = onlyFailed(pending, result.FailedEventIDs)
			err = fmt.Errorf("%d of %d records failed", len(pending), result.BatchSize)
		}

		log := s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":    attempt,
			"batch_size": len(pending),
		})
		if attempt >= s.opts.MaxAttempts || ctx.Err() != nil {
			log.Error("payment change batch exhausted retries")
			s.dead(ctx, pending, err)
			return
		}
		log.Warn("payment change batch failed, retrying")
		sleep(ctx, s.opts.RetryBackoff*time.Duration(attempt))
	}
}

func (s *PaymentChangeSource) invoke(ctx context.Context, records []service.ChangeRecord) (*service.BatchResult, error) {
	txn := s.nrApp.StartTransaction("payment-stream-batch")
	defer txn.End()
	txn.AddAttribute("batchSize", len(records))

	ictx := newrelic.NewContext(ctx, txn)
	if s.opts.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ictx, s.opts.InvocationTimeout)
		defer cancel()
	}

	result, err := s.processor.ProcessBatch(ictx, records)
	if err != nil {
		txn.NoticeError(err)
	}
	return result, err
}

func (s *PaymentChangeSource) dead(ctx context.Context, records []service.ChangeRecord, cause error) {
	if s.deadLetter == nil {
		return
	}
	if err := s.deadLetter.Write(context.WithoutCancel(ctx), records, cause.Error()); err != nil {
		s.logger.WithError(err).WithField("batch_size", len(records)).Error("failed to dead-letter payment changes")
	}
}

type notification struct {
	Op      string                     `json:"op"`
	ID      string                     `json:"id"`
	Payment map[string]json.RawMessage `json:"payment"`
}

// ParseNotification converts a payments trigger payload into a change record.
// Column values are flattened to strings. Null columns are omitted.
func ParseNotification(payload string) (service.ChangeRecord, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return service.ChangeRecord{}, fmt.Errorf("decode payment change: %w", err)
	}

	record := service.ChangeRecord{EventID: n.ID}
	switch n.Op {
	case "INSERT":
		record.EventName = service.ChangeInsert
	case "UPDATE":
		record.EventName = service.ChangeModify
	default:
		return service.ChangeRecord{}, fmt.Errorf("unsupported payment change op %q", n.Op)
	}

	if n.Payment == nil {
		return record, nil
	}
	record.NewImage = make(map[string]string, len(n.Payment))
	for column, raw := range n.Payment {
		value, ok, err := flatten(raw)
		if err != nil {
			return service.ChangeRecord{}, fmt.Errorf("decode column %s: %w", column, err)
		}
		if ok {
			record.NewImage[column] = value
		}
	}
	return record, nil
}

func flatten(raw json.RawMessage) (string, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false, err
	}
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case json.Number:
		return t.String(), true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	default:
		return string(raw), true, nil
	}
}

func onlyFailed(records []service.ChangeRecord, failedIDs []string) []service.ChangeRecord {
	failed := make(map[string]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = struct{}{}
	}
	var out []service.ChangeRecord
	for _, r := range records {
		if _, ok := failed[r.EventID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
