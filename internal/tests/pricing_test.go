package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
	"ridesaga/internal/service"
)

// ──────────────────────────────────────────────
// 2. PRICING ENGINE
// ──────────────────────────────────────────────

func rideCreatedEvent(rideID string) event.RideCreated {
	return event.RideCreated{
		RideID:              rideID,
		RiderID:             "r1",
		RiderName:           "Rider One",
		PickupLocation:      &domain.Location{Latitude: 40.0, Longitude: -73.0},
		DestinationLocation: &domain.Location{Latitude: 40.1, Longitude: -73.1},
		PaymentMethod:       domain.DefaultPaymentMethod,
		Timestamp:           time.Now().UTC(),
		CorrelationID:       "corr-1",
	}
}

func TestPricing_FinalPriceWithinBand(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		multiplier float64
	}{
		{name: "no surge", multiplier: 1.0},
		{name: "rush hour", multiplier: 1.5},
		{name: "discount", multiplier: 0.8},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			calcRepo := NewMockPriceCalculationRepository()
			publisher := NewMockPublisher()
			pricing := service.NewPricingService(calcRepo, &MockMultiplierProvider{Multiplier: tc.multiplier},
				publisher, service.DefaultPricingConfig(), logging.Discard())

			for i := 0; i < 50; i++ {
				calc, err := pricing.HandleRideCreated(context.Background(), rideCreatedEvent("ride-1"))
				if err != nil {
					t.Fatalf("expected no error, got: %v", err)
				}
				if calc.BasePrice < 5.0 || calc.BasePrice > 20.0 {
					t.Fatalf("expected base price in [5, 20], got %v", calc.BasePrice)
				}
				if calc.FinalPrice != domain.RoundMoney(calc.BasePrice*tc.multiplier) {
					t.Fatalf("expected final price %v, got %v", domain.RoundMoney(calc.BasePrice*tc.multiplier), calc.FinalPrice)
				}
				if calc.SurgeMultiplier != tc.multiplier {
					t.Fatalf("expected multiplier %v, got %v", tc.multiplier, calc.SurgeMultiplier)
				}
			}
		})
	}
}

func TestPricing_PublishesPriceCalculated(t *testing.T) {
	t.Parallel()

	calcRepo := NewMockPriceCalculationRepository()
	publisher := NewMockPublisher()
	pricing := service.NewPricingService(calcRepo, &MockMultiplierProvider{Multiplier: 1.2},
		publisher, service.DefaultPricingConfig(), logging.Discard())

	calc, err := pricing.HandleRideCreated(context.Background(), rideCreatedEvent("ride-1"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	priced := publisher.Events(event.TypePriceCalculated)
	if len(priced) != 1 {
		t.Fatalf("expected 1 PriceCalculated event, got %d", len(priced))
	}
	evt := priced[0].(event.PriceCalculated)
	if evt.EstimatedPrice != calc.FinalPrice {
		t.Errorf("expected estimated price %v, got %v", calc.FinalPrice, evt.EstimatedPrice)
	}
	if evt.DropoffLocation == nil || evt.DropoffLocation.Latitude != 40.1 {
		t.Errorf("expected dropoff location to be forwarded, got %+v", evt.DropoffLocation)
	}
	if evt.Distance <= 0 {
		t.Errorf("expected positive distance, got %v", evt.Distance)
	}
	if evt.CorrelationID != "corr-1" {
		t.Errorf("expected correlation ID corr-1, got %s", evt.CorrelationID)
	}
}

func TestPricing_RedeliveryAppendsAuditRows(t *testing.T) {
	t.Parallel()

	calcRepo := NewMockPriceCalculationRepository()
	publisher := NewMockPublisher()
	pricing := service.NewPricingService(calcRepo, &MockMultiplierProvider{Multiplier: 1.0},
		publisher, service.DefaultPricingConfig(), logging.Discard())

	evt := rideCreatedEvent("ride-1")
	for i := 0; i < 2; i++ {
		if _, err := pricing.HandleRideCreated(context.Background(), evt); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i+1, err)
		}
	}

	rows, _ := calcRepo.ListByRide(context.Background(), "ride-1")
	if len(rows) != 2 {
		t.Errorf("expected 2 audit rows, got %d", len(rows))
	}
}

func TestPricing_Failures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name           string
		provider       *MockMultiplierProvider
		storeErr       error
		publishErr     error
		mutate         func(e *event.RideCreated)
		wantErr        error
		wantValidation bool
	}{
		{
			name:     "multiplier lookup fails",
			provider: &MockMultiplierProvider{Err: ErrMockUnavailable},
			wantErr:  ErrMockUnavailable,
		},
		{
			name:     "non-positive multiplier",
			provider: &MockMultiplierProvider{Multiplier: 0},
			wantErr:  service.ErrInvalidMultiplier,
		},
		{
			name:     "store fails",
			provider: &MockMultiplierProvider{Multiplier: 1},
			storeErr: ErrMockTimeout,
			wantErr:  ErrMockTimeout,
		},
		{
			name:       "publish fails",
			provider:   &MockMultiplierProvider{Multiplier: 1},
			publishErr: ErrMockUnavailable,
			wantErr:    ErrMockUnavailable,
		},
		{
			name:           "missing pickup",
			provider:       &MockMultiplierProvider{Multiplier: 1},
			mutate:         func(e *event.RideCreated) { e.PickupLocation = nil },
			wantErr:        service.ErrInvalidPickupLocation,
			wantValidation: true,
		},
		{
			name:           "missing destination",
			provider:       &MockMultiplierProvider{Multiplier: 1},
			mutate:         func(e *event.RideCreated) { e.DestinationLocation = nil },
			wantErr:        service.ErrInvalidDestinationLocation,
			wantValidation: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			calcRepo := NewMockPriceCalculationRepository()
			calcRepo.CreateError = tc.storeErr
			publisher := NewMockPublisher()
			publisher.SetError(tc.publishErr)
			pricing := service.NewPricingService(calcRepo, tc.provider, publisher,
				service.DefaultPricingConfig(), logging.Discard())

			evt := rideCreatedEvent("ride-1")
			if tc.mutate != nil {
				tc.mutate(&evt)
			}

			_, err := pricing.HandleRideCreated(context.Background(), evt)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
			if service.IsValidation(err) != tc.wantValidation {
				t.Errorf("expected validation=%v for %v", tc.wantValidation, err)
			}
			if publisher.Count() != 0 {
				t.Errorf("expected no event, got %d", publisher.Count())
			}
		})
	}
}
