package bus

import (
	"context"

	"github.com/sirupsen/logrus"

	"ridesaga/internal/event"
)

// FanoutPublisher publishes to a primary bus and mirrors every event to secondary buses.
// Only the primary result is returned; mirror failures are logged.
type FanoutPublisher struct {
	primary Publisher
	mirrors []Publisher
	logger  logrus.FieldLogger
}

// NewFanoutPublisher creates a new FanoutPublisher.
func NewFanoutPublisher(primary Publisher, logger logrus.FieldLogger, mirrors ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{primary: primary, mirrors: mirrors, logger: logger}
}

// Publish sends the event to the primary bus, then to each mirror.
func (f *FanoutPublisher) Publish(ctx context.Context, source string, d event.Detail) error {
	if err := f.primary.Publish(ctx, source, d); err != nil {
		return err
	}

	for _, m := range f.mirrors {
		if err := m.Publish(ctx, source, d); err != nil {
			f.logger.WithError(err).WithField("detail_type", d.DetailType()).Warn("failed to mirror event")
		}
	}
	return nil
}
