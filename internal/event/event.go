// Package event defines the saga's event envelope and the canonical payload of every detail type.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Detail types carried on the bus.
const (
	TypeRideCreated      = "RideCreated"
	TypePriceCalculated  = "PriceCalculated"
	TypeDriverAssigned   = "DriverAssigned"
	TypePaymentCompleted = "PaymentCompleted"
	TypePaymentFailed    = "PaymentFailed"
)

// Event sources, one per producing stage.
const (
	SourceRideService     = "ride-service"
	SourcePricingService  = "dynamic-pricing-service"
	SourceMatchingService = "driver-matching-service"
	SourcePaymentStream   = "payment-stream-processor"
	SourceRideReconciler  = "ride-reconciler"
)

// SchemaVersion is the version every producer writes.
const SchemaVersion = 2

var (
	// ErrMalformed is returned when an envelope or its detail cannot be decoded.
	ErrMalformed = errors.New("malformed event")

	// ErrUnexpectedType is returned when an envelope is decoded into the wrong payload.
	ErrUnexpectedType = errors.New("unexpected detail type")

	// ErrUnsupportedVersion is returned for envelopes newer than this build understands.
	ErrUnsupportedVersion = errors.New("unsupported schema version")
)

// Detail is implemented by every payload type.
type Detail interface {
	DetailType() string
}

// Envelope wraps a payload with routing metadata.
type Envelope struct {
	Version    int             `json:"version"`
	ID         string          `json:"id"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Bus        string          `json:"bus,omitempty"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// New builds an envelope at the current schema version.
func New(source string, d Detail) (Envelope, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", d.DetailType(), err)
	}
	return Envelope{
		Version:    SchemaVersion,
		ID:         uuid.New().String(),
		DetailType: d.DetailType(),
		Source:     source,
		Time:       time.Now().UTC(),
		Detail:     raw,
	}, nil
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a wire envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.DetailType == "" {
		return Envelope{}, fmt.Errorf("%w: missing detail-type", ErrMalformed)
	}
	return env, nil
}

// Decode migrates the envelope's detail to the current schema and decodes it into d.
func Decode(env Envelope, d Detail) error {
	if env.DetailType != d.DetailType() {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedType, env.DetailType, d.DetailType())
	}

	version := env.Version
	if version == 0 {
		version = 1
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	raw := env.Detail
	if version < SchemaVersion {
		migrated, err := migrate(env.DetailType, version, raw)
		if err != nil {
			return err
		}
		raw = migrated
	}

	if err := json.Unmarshal(raw, d); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.DetailType, err)
	}
	return nil
}

// IsDecodeError reports whether err came from envelope decoding. Such events are never retried.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnexpectedType) || errors.Is(err, ErrUnsupportedVersion)
}
