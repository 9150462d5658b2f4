package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/event"
	"ridesaga/internal/logging"
)

const (
	fieldEvent      = "event"
	fieldDetailType = "detail-type"
)

// RedisStreamOptions configures a RedisStream.
type RedisStreamOptions struct {
	BusName          string
	Stream           string
	DeadLetterStream string
	Group            string
	Consumer         string
	MaxLen           int64
	BatchSize        int64
	BlockTimeout     time.Duration
	RetryAfter       time.Duration
	MaxDeliveries    int64
	HandlerTimeout   time.Duration
}

// RedisStream is a bus over a single Redis stream.
// Each service reads through its own consumer group; failed deliveries stay pending
// and are reclaimed after RetryAfter until MaxDeliveries is reached.
type RedisStream struct {
	client   *redis.Client
	opts     RedisStreamOptions
	logger   *logrus.Entry
	nrApp    *newrelic.Application
	handlers map[string]Handler
}

// NewRedisStream creates a new RedisStream.
func NewRedisStream(client *redis.Client, opts RedisStreamOptions, logger logrus.FieldLogger, nrApp *newrelic.Application) *RedisStream {
	return &RedisStream{
		client: client,
		opts:   opts,
		logger: logger.WithFields(logrus.Fields{
			"stream": opts.Stream,
			"group":  opts.Group,
		}),
		nrApp:    nrApp,
		handlers: make(map[string]Handler),
	}
}

// Publish appends an event to the stream.
func (b *RedisStream) Publish(ctx context.Context, source string, d event.Detail) error {
	env, err := event.New(source, d)
	if err != nil {
		return err
	}
	env.Bus = b.opts.BusName

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: b.opts.Stream,
		Values: map[string]any{
			fieldEvent:      string(data),
			fieldDetailType: env.DetailType,
		},
	}
	if b.opts.MaxLen > 0 {
		args.MaxLen = b.opts.MaxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.DetailType, err)
	}
	return nil
}

// Subscribe registers a handler for a detail type. Call before Run.
func (b *RedisStream) Subscribe(detailType string, h Handler) {
	b.handlers[detailType] = h
}

// Run consumes the stream until ctx is cancelled.
func (b *RedisStream) Run(ctx context.Context) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}

	b.logger.WithField("consumer", b.opts.Consumer).Info("bus consumer started")

	for ctx.Err() == nil {
		b.reclaim(ctx)

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			Streams:  []string{b.opts.Stream, ">"},
			Count:    b.opts.BatchSize,
			Block:    b.opts.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			b.logger.WithError(err).Error("failed to read from stream")
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handle(ctx, msg)
			}
		}
	}

	b.logger.Info("bus consumer stopped")
	return nil
}

func (b *RedisStream) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.opts.Stream, b.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", b.opts.Group, err)
	}
	return nil
}

// reclaim takes over deliveries that stayed pending longer than RetryAfter.
func (b *RedisStream) reclaim(ctx context.Context) {
	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.opts.Stream,
		Group:    b.opts.Group,
		Consumer: b.opts.Consumer,
		MinIdle:  b.opts.RetryAfter,
		Start:    "0-0",
		Count:    b.opts.BatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			b.logger.WithError(err).Warn("failed to reclaim pending deliveries")
		}
		return
	}

	for _, msg := range msgs {
		deliveries, err := b.deliveryCount(ctx, msg.ID)
		if err != nil {
			b.logger.WithError(err).WithField("message_id", msg.ID).Warn("failed to read delivery count")
			continue
		}
		if b.opts.MaxDeliveries > 0 && deliveries > b.opts.MaxDeliveries {
			b.deadLetter(ctx, msg, fmt.Sprintf("exceeded %d deliveries", b.opts.MaxDeliveries))
			b.ack(ctx, msg.ID)
			continue
		}
		b.handle(ctx, msg)
	}
}

func (b *RedisStream) deliveryCount(ctx context.Context, id string) (int64, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.opts.Stream,
		Group:  b.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

func (b *RedisStream) handle(ctx context.Context, msg redis.XMessage) {
	raw, _ := msg.Values[fieldEvent].(string)
	env, err := event.Unmarshal([]byte(raw))
	if err != nil {
		b.logger.WithError(err).WithField("message_id", msg.ID).Warn("dropping malformed envelope")
		b.deadLetter(ctx, msg, err.Error())
		b.ack(ctx, msg.ID)
		return
	}

	h, ok := b.handlers[env.DetailType]
	if !ok {
		b.ack(ctx, msg.ID)
		return
	}

	log := b.logger.WithFields(logrus.Fields{
		logging.FieldDetailType: env.DetailType,
		logging.FieldEventID:    env.ID,
		"message_id":            msg.ID,
	})

	err = b.dispatch(ctx, env, h)
	switch {
	case err == nil:
		b.ack(ctx, msg.ID)
	case IsPermanent(err):
		log.WithError(err).Warn("event rejected, not retrying")
		b.deadLetter(ctx, msg, err.Error())
		b.ack(ctx, msg.ID)
	default:
		log.WithError(err).Error("event handler failed, leaving for redelivery")
	}
}

func (b *RedisStream) dispatch(ctx context.Context, env event.Envelope, h Handler) error {
	txn := b.nrApp.StartTransaction(b.opts.Group + "/" + env.DetailType)
	defer txn.End()
	txn.AddAttribute("eventId", env.ID)

	hctx := newrelic.NewContext(ctx, txn)
	if b.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, b.opts.HandlerTimeout)
		defer cancel()
	}

	err := h(hctx, env)
	if err != nil {
		txn.NoticeError(err)
	}
	return err
}

func (b *RedisStream) ack(ctx context.Context, id string) {
	if err := b.client.XAck(ctx, b.opts.Stream, b.opts.Group, id).Err(); err != nil {
		b.logger.WithError(err).WithField("message_id", id).Error("failed to ack delivery")
	}
}

func (b *RedisStream) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	if b.opts.DeadLetterStream == "" {
		return
	}
	values := map[string]any{
		"reason":      reason,
		"group":       b.opts.Group,
		"original-id": msg.ID,
	}
	if raw, ok := msg.Values[fieldEvent]; ok {
		values[fieldEvent] = raw
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: b.opts.DeadLetterStream, Values: values}).Err(); err != nil {
		b.logger.WithError(err).WithField("message_id", msg.ID).Error("failed to dead-letter delivery")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
