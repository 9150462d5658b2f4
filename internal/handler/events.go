package handler

import (
	"context"

	"ridesaga/internal/bus"
	"ridesaga/internal/event"
	"ridesaga/internal/service"
)

// PricingEvents returns the bus handler for RideCreated.
func PricingEvents(svc *service.PricingService) bus.Handler {
	return func(ctx context.Context, env event.Envelope) error {
		var evt event.RideCreated
		if err := event.Decode(env, &evt); err != nil {
			return err
		}
		_, err := svc.HandleRideCreated(ctx, evt)
		return classify(err)
	}
}

// MatchingEvents returns the bus handler for PriceCalculated.
func MatchingEvents(svc *service.MatchingService) bus.Handler {
	return func(ctx context.Context, env event.Envelope) error {
		var evt event.PriceCalculated
		if err := event.Decode(env, &evt); err != nil {
			return err
		}
		_, err := svc.HandlePriceCalculated(ctx, evt)
		return classify(err)
	}
}

// PaymentEvents returns the bus handler for DriverAssigned.
func PaymentEvents(svc *service.PaymentService) bus.Handler {
	return func(ctx context.Context, env event.Envelope) error {
		var evt event.DriverAssigned
		if err := event.Decode(env, &evt); err != nil {
			return err
		}
		_, err := svc.HandleDriverAssigned(ctx, evt)
		return classify(err)
	}
}

// CompletionEvents registers the finalizer for both payment outcomes.
func CompletionEvents(sub bus.Subscriber, svc *service.RideCompletionService) {
	sub.Subscribe(event.TypePaymentCompleted, func(ctx context.Context, env event.Envelope) error {
		var evt event.PaymentCompleted
		if err := event.Decode(env, &evt); err != nil {
			return err
		}
		_, err := svc.HandlePaymentCompleted(ctx, evt)
		return classify(err)
	})
	sub.Subscribe(event.TypePaymentFailed, func(ctx context.Context, env event.Envelope) error {
		var evt event.PaymentFailed
		if err := event.Decode(env, &evt); err != nil {
			return err
		}
		_, err := svc.HandlePaymentFailed(ctx, evt)
		return classify(err)
	})
}

// classify marks validation failures as permanent so the bus does not redeliver them.
func classify(err error) error {
	if service.IsValidation(err) {
		return bus.Permanent(err)
	}
	return err
}
