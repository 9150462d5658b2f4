package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStatus is the state of a fingerprint in the idempotency store.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	IdempotencyCompleted  IdempotencyStatus = "completed"

	// IdempotencyCharged means the gateway answered but the result has not reached storage yet.
	IdempotencyCharged IdempotencyStatus = "charged"
)

const idempotencyPrefix = "idempotency:payment:"

// IdempotencyRecord maps a fingerprint to a stored result and its expiry.
type IdempotencyRecord struct {
	Status    IdempotencyStatus `json:"status"`
	Result    json.RawMessage   `json:"result,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// IdempotencyStore keeps processing results keyed by fingerprint in Redis.
type IdempotencyStore struct {
	client *redis.Client
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// Get returns the record for a fingerprint, or nil on a miss.
func (s *IdempotencyStore) Get(ctx context.Context, fingerprint string) (*IdempotencyRecord, error) {
	data, err := s.client.Get(ctx, idempotencyPrefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Begin writes an in-progress record only if none exists.
// Returns false when another invocation already owns the fingerprint.
func (s *IdempotencyStore) Begin(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(IdempotencyRecord{
		Status:    IdempotencyInProgress,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	})
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, idempotencyPrefix+fingerprint, data, ttl).Result()
}

// Charged records the gateway outcome so a retry only has to persist it.
func (s *IdempotencyStore) Charged(ctx context.Context, fingerprint string, result []byte, ttl time.Duration) error {
	return s.set(ctx, fingerprint, IdempotencyCharged, result, ttl)
}

// Complete stores the final result for a fingerprint.
func (s *IdempotencyStore) Complete(ctx context.Context, fingerprint string, result []byte, ttl time.Duration) error {
	return s.set(ctx, fingerprint, IdempotencyCompleted, result, ttl)
}

func (s *IdempotencyStore) set(ctx context.Context, fingerprint string, status IdempotencyStatus, result []byte, ttl time.Duration) error {
	data, err := json.Marshal(IdempotencyRecord{
		Status:    status,
		Result:    result,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyPrefix+fingerprint, data, ttl).Err()
}

// Abandon removes an in-progress record so a retry can run.
func (s *IdempotencyStore) Abandon(ctx context.Context, fingerprint string) error {
	return s.client.Del(ctx, idempotencyPrefix+fingerprint).Err()
}
