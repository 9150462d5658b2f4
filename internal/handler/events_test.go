package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ridesaga/internal/bus"
	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/handler"
	"ridesaga/internal/logging"
	"ridesaga/internal/redis"
	"ridesaga/internal/service"
	"ridesaga/internal/tests"
)

func newPricing(provider *tests.MockMultiplierProvider) (*service.PricingService, *tests.MockPublisher) {
	publisher := tests.NewMockPublisher()
	return service.NewPricingService(tests.NewMockPriceCalculationRepository(), provider, publisher,
		service.DefaultPricingConfig(), logging.Discard()), publisher
}

func TestPricingEvents(t *testing.T) {
	t.Parallel()

	valid, err := event.New(event.SourceRideService, event.RideCreated{
		RideID:              "ride-1",
		PickupLocation:      &domain.Location{Latitude: 40, Longitude: -73},
		DestinationLocation: &domain.Location{Latitude: 40.1, Longitude: -73.1},
	})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	missingPickup, _ := event.New(event.SourceRideService, event.RideCreated{RideID: "ride-1"})
	wrongType, _ := event.New(event.SourcePricingService, event.PriceCalculated{RideID: "ride-1"})
	garbled := valid
	garbled.Detail = json.RawMessage(`{"pickupLocation": 5}`)

	testCases := []struct {
		name          string
		env           event.Envelope
		provider      *tests.MockMultiplierProvider
		wantErr       bool
		wantPermanent bool
		wantEvents    int
	}{
		{name: "priced", env: valid, provider: &tests.MockMultiplierProvider{Multiplier: 1}, wantEvents: 1},
		{name: "validation is permanent", env: missingPickup, provider: &tests.MockMultiplierProvider{Multiplier: 1}, wantErr: true, wantPermanent: true},
		{name: "wrong type is permanent", env: wrongType, provider: &tests.MockMultiplierProvider{Multiplier: 1}, wantErr: true, wantPermanent: true},
		{name: "malformed detail is permanent", env: garbled, provider: &tests.MockMultiplierProvider{Multiplier: 1}, wantErr: true, wantPermanent: true},
		{name: "secrets outage is retried", env: valid, provider: &tests.MockMultiplierProvider{Err: tests.ErrMockUnavailable}, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc, publisher := newPricing(tc.provider)
			err := handler.PricingEvents(svc)(context.Background(), tc.env)

			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
			if bus.IsPermanent(err) != tc.wantPermanent {
				t.Errorf("expected permanent=%v, got %v", tc.wantPermanent, err)
			}
			if publisher.Count() != tc.wantEvents {
				t.Errorf("expected %d events, got %d", tc.wantEvents, publisher.Count())
			}
		})
	}
}

func TestCompletionEvents_RoutesBothOutcomes(t *testing.T) {
	t.Parallel()

	rides := tests.NewMockRideRepository()
	drivers := tests.NewMockDriverRepository()
	rides.AddRide(&domain.Ride{ID: "ride-1", Status: domain.RideStatusDriverAssigned, DriverID: "driver-1"})
	rides.AddRide(&domain.Ride{ID: "ride-2", Status: domain.RideStatusDriverAssigned, DriverID: "driver-2"})
	drivers.AddDriver(&domain.Driver{ID: "driver-1", Status: domain.DriverStatusBusy})
	drivers.AddDriver(&domain.Driver{ID: "driver-2", Status: domain.DriverStatusBusy})

	memBus := bus.NewMemoryBus(logging.Discard())
	handler.CompletionEvents(memBus, service.NewRideCompletionService(rides, drivers, nil, logging.Discard()))

	ctx := context.Background()
	if err := memBus.Publish(ctx, event.SourcePaymentStream, event.PaymentCompleted{
		PaymentID: "p1", RideID: "ride-1", RiderID: "r1", DriverID: "driver-1", Amount: 10,
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := memBus.Publish(ctx, event.SourcePaymentStream, event.PaymentFailed{
		PaymentID: "p2", RideID: "ride-2", RiderID: "r1", DriverID: "driver-2", Amount: 10,
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if got := rides.GetRide("ride-1").Status; got != domain.RideStatusCompleted {
		t.Errorf("expected ride-1 completed, got %s", got)
	}
	if got := rides.GetRide("ride-2").Status; got != domain.RideStatusPaymentFailed {
		t.Errorf("expected ride-2 payment_failed, got %s", got)
	}
	if drivers.CountByStatus(domain.DriverStatusAvailable) != 2 {
		t.Error("expected both drivers released")
	}
}

func TestPaymentEvents_InProgressIsRetried(t *testing.T) {
	t.Parallel()

	idem := tests.NewMockIdempotencyStore()
	svc := service.NewPaymentService(tests.NewMockPaymentRepository(), idem, tests.NewMockGateway(),
		service.DefaultPaymentOptions(), logging.Discard())

	evt := event.DriverAssigned{RideID: "ride-1", DriverID: "driver-1", EstimatedPrice: 10}
	idem.Put(service.Fingerprint(evt), &redis.IdempotencyRecord{
		Status:    redis.IdempotencyInProgress,
		ExpiresAt: time.Now().Add(time.Minute),
	})

	env, _ := event.New(event.SourceMatchingService, evt)
	err := handler.PaymentEvents(svc)(context.Background(), env)
	if !errors.Is(err, service.ErrPaymentInProgress) {
		t.Fatalf("expected %v, got %v", service.ErrPaymentInProgress, err)
	}
	if bus.IsPermanent(err) {
		t.Error("expected in-progress to be retried")
	}
}
