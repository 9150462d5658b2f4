// Package bus carries saga events between stages with at-least-once delivery.
package bus

import (
	"context"
	"errors"

	"ridesaga/internal/event"
)

// Publisher puts events on the bus.
type Publisher interface {
	Publish(ctx context.Context, source string, d event.Detail) error
}

// Handler processes one delivered envelope. A nil return acknowledges it.
type Handler func(ctx context.Context, env event.Envelope) error

// Subscriber routes delivered envelopes to handlers by detail type.
type Subscriber interface {
	Subscribe(detailType string, h Handler)
	Run(ctx context.Context) error
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an error that redelivery cannot fix. The bus acknowledges such deliveries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p) || event.IsDecodeError(err)
}
