package tests

import (
	"context"
	"strconv"
	"testing"

	"ridesaga/internal/bus"
	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/handler"
	"ridesaga/internal/logging"
	"ridesaga/internal/service"
)

// ──────────────────────────────────────────────
// 7. END TO END
// ──────────────────────────────────────────────

type sagaFixture struct {
	bus      *bus.MemoryBus
	rides    *MockRideRepository
	drivers  *MockDriverRepository
	payments *MockPaymentRepository
	gateway  *MockGateway
	intake   *service.RideService
	stream   *service.PaymentStreamService
}

func newSagaFixture() *sagaFixture {
	logger := logging.Discard()
	f := &sagaFixture{
		bus:      bus.NewMemoryBus(logger),
		rides:    NewMockRideRepository(),
		drivers:  NewMockDriverRepository(),
		payments: NewMockPaymentRepository(),
		gateway:  NewMockGateway(),
	}

	pricing := service.NewPricingService(NewMockPriceCalculationRepository(), &MockMultiplierProvider{Multiplier: 1.5},
		f.bus, service.DefaultPricingConfig(), logger)
	matching := service.NewMatchingService(f.rides, f.drivers, NewMockTransactor(f.rides, f.drivers), NewMockLockStore(),
		f.bus, service.FirstAvailableRanker{}, 0, logger)
	payment := service.NewPaymentService(f.payments, NewMockIdempotencyStore(), f.gateway,
		service.DefaultPaymentOptions(), logger)

	f.bus.Subscribe(event.TypeRideCreated, handler.PricingEvents(pricing))
	f.bus.Subscribe(event.TypePriceCalculated, handler.MatchingEvents(matching))
	f.bus.Subscribe(event.TypeDriverAssigned, handler.PaymentEvents(payment))
	handler.CompletionEvents(f.bus, service.NewRideCompletionService(f.rides, f.drivers, &MockNotifier{}, logger))

	f.intake = service.NewRideService(f.rides, f.bus, logger)
	f.stream = service.NewPaymentStreamService(f.bus, service.PaymentStreamOptions{}, logger)
	return f
}

// deliverPaymentChange feeds the stored payment row to the stream processor the way the trigger would.
func (f *sagaFixture) deliverPaymentChange(t *testing.T, rideID string) {
	t.Helper()
	p := f.payments.GetPaymentByRideID(rideID)
	if p == nil {
		t.Fatalf("expected a payment row for %s", rideID)
	}
	record := service.ChangeRecord{
		EventID:   "change-" + p.ID,
		EventName: service.ChangeModify,
		NewImage: map[string]string{
			"id":             p.ID,
			"ride_id":        p.RideID,
			"rider_id":       p.RiderID,
			"driver_id":      p.DriverID,
			"amount":         strconv.FormatFloat(p.Amount, 'f', 2, 64),
			"payment_method": p.PaymentMethod,
			"status":         string(p.Status),
			"failure_reason": p.FailureReason,
			"transaction_id": p.TransactionID,
			"correlation_id": p.CorrelationID,
		},
	}
	if _, err := f.stream.ProcessBatch(context.Background(), []service.ChangeRecord{record}); err != nil {
		t.Fatalf("stream batch failed: %v", err)
	}
}

func (f *sagaFixture) requestRide(t *testing.T) *domain.Ride {
	t.Helper()
	resp, err := f.intake.CreateRide(context.Background(), service.CreateRideRequest{
		RiderID:             "r1",
		RiderName:           "Rider One",
		PickupLocation:      &domain.Location{Address: "Ferry Building", Latitude: 37.7955, Longitude: -122.3937},
		DestinationLocation: &domain.Location{Address: "Mission Dolores", Latitude: 37.7599, Longitude: -122.4268},
		DeviceID:            "device-1",
		CorrelationID:       "corr-e2e",
	})
	if err != nil {
		t.Fatalf("create ride failed: %v", err)
	}
	return resp.Ride
}

func detailTypes(envs []event.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.DetailType)
	}
	return out
}

func TestSaga_HappyPath(t *testing.T) {
	t.Parallel()

	f := newSagaFixture()
	f.drivers.AddDriver(availableDriver("driver-1", 37.79, -122.40, 4.8))

	ride := f.requestRide(t)
	f.deliverPaymentChange(t, ride.ID)

	want := []string{
		event.TypeRideCreated,
		event.TypePriceCalculated,
		event.TypeDriverAssigned,
		event.TypePaymentCompleted,
	}
	got := detailTypes(f.bus.History())
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected event %d to be %s, got %s", i, want[i], got[i])
		}
	}

	stored := f.rides.GetRide(ride.ID)
	if stored.Status != domain.RideStatusCompleted {
		t.Errorf("expected ride completed, got %s", stored.Status)
	}
	if stored.DriverID != "driver-1" {
		t.Errorf("expected driver-1 assigned, got %s", stored.DriverID)
	}
	if got := f.drivers.GetDriver("driver-1").Status; got != domain.DriverStatusAvailable {
		t.Errorf("expected driver released, got %s", got)
	}

	p := f.payments.GetPaymentByRideID(ride.ID)
	if p.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected payment completed, got %s", p.Status)
	}
	if p.Amount < 7.5 || p.Amount > 30 {
		t.Errorf("expected amount within the surged band, got %.2f", p.Amount)
	}
	if p.CorrelationID != "corr-e2e" {
		t.Errorf("expected correlation id to flow through, got %q", p.CorrelationID)
	}
}

func TestSaga_DeclinedPayment(t *testing.T) {
	t.Parallel()

	f := newSagaFixture()
	f.drivers.AddDriver(availableDriver("driver-1", 37.79, -122.40, 4.8))
	f.gateway.SetDecline(true, nil)

	ride := f.requestRide(t)
	f.deliverPaymentChange(t, ride.ID)

	if got := f.rides.GetRide(ride.ID).Status; got != domain.RideStatusPaymentFailed {
		t.Errorf("expected ride payment_failed, got %s", got)
	}
	if got := f.drivers.GetDriver("driver-1").Status; got != domain.DriverStatusAvailable {
		t.Errorf("expected driver released, got %s", got)
	}
	if n := len(f.bus.History()); n != 4 {
		t.Errorf("expected 4 events, got %d", n)
	}
}

func TestSaga_NoDriverStopsBeforePayment(t *testing.T) {
	t.Parallel()

	f := newSagaFixture()

	ride := f.requestRide(t)

	if got := f.rides.GetRide(ride.ID).Status; got != domain.RideStatusNoDriverAvailable {
		t.Errorf("expected no-driver-available, got %s", got)
	}
	if f.payments.CountPayments() != 0 {
		t.Errorf("expected no payment, got %d", f.payments.CountPayments())
	}
	if n := len(f.bus.History()); n != 2 {
		t.Errorf("expected RideCreated and PriceCalculated only, got %v", detailTypes(f.bus.History()))
	}
}

func TestSaga_RedeliveredAssignmentChargesOnce(t *testing.T) {
	t.Parallel()

	f := newSagaFixture()
	f.drivers.AddDriver(availableDriver("driver-1", 37.79, -122.40, 4.8))

	f.requestRide(t)

	// Replay the assignment as a redelivery would.
	var assigned event.DriverAssigned
	for _, env := range f.bus.History() {
		if env.DetailType == event.TypeDriverAssigned {
			if err := event.Decode(env, &assigned); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
		}
	}
	if err := f.bus.Publish(context.Background(), event.SourceMatchingService, assigned); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if f.payments.CountPayments() != 1 {
		t.Errorf("expected exactly one payment row, got %d", f.payments.CountPayments())
	}
	if atomicLoad(&f.gateway.ChargeCallCount) != 1 {
		t.Errorf("expected one charge, got %d", atomicLoad(&f.gateway.ChargeCallCount))
	}
}
