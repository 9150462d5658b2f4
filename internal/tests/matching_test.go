package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
	"ridesaga/internal/repository"
	"ridesaga/internal/service"
)

// ──────────────────────────────────────────────
// 3. DRIVER MATCHING
// ──────────────────────────────────────────────

type matchingFixture struct {
	rides     *MockRideRepository
	drivers   *MockDriverRepository
	locks     *MockLockStore
	publisher *MockPublisher
	service   *service.MatchingService
}

func newMatchingFixture(ranker service.DriverRanker) *matchingFixture {
	f := &matchingFixture{
		rides:     NewMockRideRepository(),
		drivers:   NewMockDriverRepository(),
		locks:     NewMockLockStore(),
		publisher: NewMockPublisher(),
	}
	f.service = service.NewMatchingService(f.rides, f.drivers, NewMockTransactor(f.rides, f.drivers),
		f.locks, f.publisher, ranker, time.Second, logging.Discard())
	return f
}

func requestedRide(id string) *domain.Ride {
	return &domain.Ride{
		ID:                  id,
		RiderID:             "r1",
		RiderName:           "Rider One",
		PickupLocation:      domain.Location{Latitude: 37.7946, Longitude: -122.3999},
		DestinationLocation: domain.Location{Latitude: 37.7599, Longitude: -122.4148},
		Status:              domain.RideStatusRequested,
		PaymentMethod:       domain.DefaultPaymentMethod,
		CreatedAt:           time.Now().UTC(),
	}
}

func availableDriver(id string, lat, lng, rating float64) *domain.Driver {
	return &domain.Driver{
		ID:              id,
		Name:            "Driver " + id,
		CurrentLocation: domain.Location{Latitude: lat, Longitude: lng},
		Status:          domain.DriverStatusAvailable,
		Rating:          rating,
	}
}

func priceCalculatedEvent(rideID string) event.PriceCalculated {
	return event.PriceCalculated{
		RideID:          rideID,
		RiderID:         "r1",
		RiderName:       "Rider One",
		PickupLocation:  &domain.Location{Latitude: 37.7946, Longitude: -122.3999},
		DropoffLocation: &domain.Location{Latitude: 37.7599, Longitude: -122.4148},
		EstimatedPrice:  12.5,
		BasePrice:       12.5,
		SurgeMultiplier: 1.0,
		Distance:        4.2,
		PaymentMethod:   domain.DefaultPaymentMethod,
		CorrelationID:   "corr-1",
	}
}

func TestMatching_AssignsFirstAvailableDriver(t *testing.T) {
	t.Parallel()

	f := newMatchingFixture(service.FirstAvailableRanker{})
	f.rides.AddRide(requestedRide("ride-1"))
	busy := availableDriver("driver-busy", 37.79, -122.40, 5)
	busy.Status = domain.DriverStatusBusy
	f.drivers.AddDriver(busy)
	f.drivers.AddDriver(availableDriver("driver-1", 37.70, -122.40, 4.5))
	f.drivers.AddDriver(availableDriver("driver-2", 37.79, -122.40, 4.9))

	result, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent("ride-1"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !result.Assigned || result.DriverID != "driver-1" {
		t.Errorf("expected driver-1 to be assigned, got %+v", result)
	}

	ride := f.rides.GetRide("ride-1")
	if ride.Status != domain.RideStatusDriverAssigned {
		t.Errorf("expected status %s, got %s", domain.RideStatusDriverAssigned, ride.Status)
	}
	if ride.DriverID != "driver-1" {
		t.Errorf("expected driver-1 on ride, got %s", ride.DriverID)
	}
	if ride.EstimatedPrice != 12.5 {
		t.Errorf("expected estimated price 12.5, got %v", ride.EstimatedPrice)
	}
	if got := f.drivers.GetDriver("driver-1").Status; got != domain.DriverStatusBusy {
		t.Errorf("expected claimed driver to be busy, got %s", got)
	}

	assigned := f.publisher.Events(event.TypeDriverAssigned)
	if len(assigned) != 1 {
		t.Fatalf("expected 1 DriverAssigned event, got %d", len(assigned))
	}
	evt := assigned[0].(event.DriverAssigned)
	if evt.DriverName != "Driver driver-1" || evt.EstimatedPrice != 12.5 || evt.DistanceKm != 4.2 {
		t.Errorf("expected pricing context to be forwarded, got %+v", evt)
	}
	if f.locks.IsLocked("ride-1") {
		t.Error("expected ride lock to be released")
	}
}

func TestMatching_ProximityRankerPrefersClosest(t *testing.T) {
	t.Parallel()

	f := newMatchingFixture(service.ProximityRanker{})
	f.rides.AddRide(requestedRide("ride-1"))
	f.drivers.AddDriver(availableDriver("driver-far", 37.70, -122.47, 5.0))
	f.drivers.AddDriver(availableDriver("driver-near-low", 37.7946, -122.3999, 4.1))
	f.drivers.AddDriver(availableDriver("driver-near-high", 37.7946, -122.3999, 4.9))

	result, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent("ride-1"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result.DriverID != "driver-near-high" {
		t.Errorf("expected driver-near-high, got %s", result.DriverID)
	}
}

func TestMatching_NoDriversAvailable(t *testing.T) {
	t.Parallel()

	f := newMatchingFixture(nil)
	f.rides.AddRide(requestedRide("ride-1"))

	result, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent("ride-1"))
	if err != nil {
		t.Fatalf("expected no error for a business failure, got: %v", err)
	}
	if result.Assigned {
		t.Error("expected no assignment")
	}
	if got := f.rides.GetRide("ride-1").Status; got != domain.RideStatusNoDriverAvailable {
		t.Errorf("expected status %s, got %s", domain.RideStatusNoDriverAvailable, got)
	}
	if f.publisher.Count() != 0 {
		t.Errorf("expected no event, got %d", f.publisher.Count())
	}
}

func TestMatching_RideAlreadyAssigned_ReplaysEvent(t *testing.T) {
	t.Parallel()

	f := newMatchingFixture(nil)
	ride := requestedRide("ride-1")
	ride.Status = domain.RideStatusDriverAssigned
	ride.DriverID = "driver-1"
	f.rides.AddRide(ride)
	d := availableDriver("driver-1", 0, 0, 5)
	d.Status = domain.DriverStatusBusy
	f.drivers.AddDriver(d)
	f.drivers.AddDriver(availableDriver("driver-2", 0, 0, 5))

	result, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent("ride-1"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !result.Replayed || result.DriverID != "driver-1" {
		t.Errorf("expected replay for driver-1, got %+v", result)
	}
	if atomicLoad(&f.drivers.ClaimCallCount) != 0 {
		t.Error("expected no new claim")
	}
	if got := f.drivers.GetDriver("driver-2").Status; got != domain.DriverStatusAvailable {
		t.Errorf("expected driver-2 untouched, got %s", got)
	}
	if len(f.publisher.Events(event.TypeDriverAssigned)) != 1 {
		t.Error("expected DriverAssigned to be re-sent")
	}
}

func TestMatching_RedeliveredQuoteKeepsRecordedPrice(t *testing.T) {
	t.Parallel()

	f := newMatchingFixture(nil)
	f.rides.AddRide(requestedRide("ride-1"))
	f.drivers.AddDriver(availableDriver("driver-1", 0, 0, 5))
	f.drivers.AddDriver(availableDriver("driver-2", 0, 0, 5))

	ctx := context.Background()
	if _, err := f.service.HandlePriceCalculated(ctx, priceCalculatedEvent("ride-1")); err != nil {
		t.Fatalf("first quote: %v", err)
	}

	requote := priceCalculatedEvent("ride-1")
	requote.EstimatedPrice = 17.25
	requote.BasePrice = 17.25
	result, err := f.service.HandlePriceCalculated(ctx, requote)
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if !result.Replayed {
		t.Errorf("expected replay, got %+v", result)
	}

	assigned := f.publisher.Events(event.TypeDriverAssigned)
	if len(assigned) != 2 {
		t.Fatalf("expected 2 DriverAssigned events, got %d", len(assigned))
	}
	if got := assigned[1].(event.DriverAssigned).EstimatedPrice; got != 12.5 {
		t.Errorf("expected replay to carry recorded price 12.5, got %v", got)
	}
	if got := f.rides.GetRide("ride-1").EstimatedPrice; got != 12.5 {
		t.Errorf("expected ride price to stay 12.5, got %v", got)
	}

	payments := newPaymentFixture(service.DefaultPaymentOptions())
	for _, d := range assigned {
		if _, err := payments.service.HandleDriverAssigned(ctx, d.(event.DriverAssigned)); err != nil {
			t.Fatalf("payment: %v", err)
		}
	}
	if payments.payments.CountPayments() != 1 {
		t.Errorf("expected 1 payment row, got %d", payments.payments.CountPayments())
	}
	if atomicLoad(&payments.gateway.ChargeCallCount) != 1 {
		t.Errorf("expected 1 charge, got %d", atomicLoad(&payments.gateway.ChargeCallCount))
	}
}

// staleRideRepository serves a fixed snapshot on reads, as a replica lagging behind the primary would.
type staleRideRepository struct {
	*MockRideRepository
	snapshot domain.Ride
}

func (r *staleRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	copy := r.snapshot
	return &copy, nil
}

func TestMatching_StaleReadCannotAssignTwice(t *testing.T) {
	t.Parallel()

	rides := NewMockRideRepository()
	drivers := NewMockDriverRepository()
	publisher := NewMockPublisher()
	rides.AddRide(requestedRide("ride-1"))
	drivers.AddDriver(availableDriver("driver-1", 0, 0, 5))
	drivers.AddDriver(availableDriver("driver-2", 0, 0, 5))

	stale := &staleRideRepository{MockRideRepository: rides, snapshot: *requestedRide("ride-1")}
	svc := service.NewMatchingService(stale, drivers, NewMockTransactor(rides, drivers),
		nil, publisher, service.FirstAvailableRanker{}, time.Second, logging.Discard())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.HandlePriceCalculated(ctx, priceCalculatedEvent("ride-1")); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	if got := rides.GetRide("ride-1").DriverID; got != "driver-1" {
		t.Errorf("expected driver-1 to keep the ride, got %s", got)
	}
	if busy := drivers.CountByStatus(domain.DriverStatusBusy); busy != 1 {
		t.Errorf("expected 1 busy driver, got %d", busy)
	}
	if got := drivers.GetDriver("driver-2").Status; got != domain.DriverStatusAvailable {
		t.Errorf("expected driver-2 claim to be rolled back, got %s", got)
	}
	if n := len(publisher.Events(event.TypeDriverAssigned)); n != 1 {
		t.Errorf("expected 1 DriverAssigned event, got %d", n)
	}
}

func TestMatching_ConcurrentAssignmentReplaysWinner(t *testing.T) {
	t.Parallel()

	rides := NewMockRideRepository()
	drivers := NewMockDriverRepository()
	publisher := NewMockPublisher()
	winner := requestedRide("ride-1")
	winner.Status = domain.RideStatusDriverAssigned
	winner.DriverID = "driver-1"
	winner.EstimatedPrice = 12.5
	rides.AddRide(winner)
	d := availableDriver("driver-1", 0, 0, 5)
	d.Status = domain.DriverStatusBusy
	drivers.AddDriver(d)
	drivers.AddDriver(availableDriver("driver-2", 0, 0, 5))

	// First read sees requested; the reload after the lost update sees the winner.
	reads := &firstReadStale{MockRideRepository: rides, snapshot: *requestedRide("ride-1")}
	svc := service.NewMatchingService(reads, drivers, NewMockTransactor(rides, drivers),
		nil, publisher, nil, time.Second, logging.Discard())

	requote := priceCalculatedEvent("ride-1")
	requote.EstimatedPrice = 17.25
	result, err := svc.HandlePriceCalculated(context.Background(), requote)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !result.Replayed || result.DriverID != "driver-1" {
		t.Errorf("expected replay for driver-1, got %+v", result)
	}
	if got := drivers.GetDriver("driver-2").Status; got != domain.DriverStatusAvailable {
		t.Errorf("expected driver-2 claim to be rolled back, got %s", got)
	}
	assigned := publisher.Events(event.TypeDriverAssigned)
	if len(assigned) != 1 {
		t.Fatalf("expected 1 DriverAssigned event, got %d", len(assigned))
	}
	if evt := assigned[0].(event.DriverAssigned); evt.DriverID != "driver-1" || evt.EstimatedPrice != 12.5 {
		t.Errorf("expected winner's assignment, got %+v", evt)
	}
}

type firstReadStale struct {
	*MockRideRepository
	snapshot domain.Ride
	reads    int32
}

func (r *firstReadStale) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	if atomic.AddInt32(&r.reads, 1) == 1 {
		copy := r.snapshot
		return &copy, nil
	}
	return r.MockRideRepository.GetByID(ctx, id)
}

func TestMatching_TerminalRide_NoOp(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.RideStatus{domain.RideStatusCompleted, domain.RideStatusCancelled, domain.RideStatusNoDriverAvailable} {
		status := status
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			f := newMatchingFixture(nil)
			ride := requestedRide("ride-1")
			ride.Status = status
			f.rides.AddRide(ride)
			f.drivers.AddDriver(availableDriver("driver-1", 0, 0, 5))

			result, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent("ride-1"))
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if result.Assigned {
				t.Error("expected no assignment")
			}
			if f.publisher.Count() != 0 {
				t.Errorf("expected no event, got %d", f.publisher.Count())
			}
		})
	}
}

func TestMatching_SystemFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		setup   func(f *matchingFixture)
		wantErr error
	}{
		{
			name:    "ride missing",
			setup:   func(f *matchingFixture) {},
			wantErr: repository.ErrNotFound,
		},
		{
			name: "lock held",
			setup: func(f *matchingFixture) {
				f.rides.AddRide(requestedRide("ride-1"))
				f.locks.ForceAcquireFailure = true
			},
			wantErr: service.ErrMatchInProgress,
		},
		{
			name: "driver scan fails",
			setup: func(f *matchingFixture) {
				f.rides.AddRide(requestedRide("ride-1"))
				f.drivers.ListAvailableError = ErrMockTimeout
			},
			wantErr: ErrMockTimeout,
		},
		{
			name: "ride update fails",
			setup: func(f *matchingFixture) {
				f.rides.AddRide(requestedRide("ride-1"))
				f.drivers.AddDriver(availableDriver("driver-1", 0, 0, 5))
				f.rides.AssignError = ErrMockTimeout
			},
			wantErr: ErrMockTimeout,
		},
		{
			name: "publish fails",
			setup: func(f *matchingFixture) {
				f.rides.AddRide(requestedRide("ride-1"))
				f.drivers.AddDriver(availableDriver("driver-1", 0, 0, 5))
				f.publisher.SetError(ErrMockUnavailable)
			},
			wantErr: ErrMockUnavailable,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newMatchingFixture(nil)
			tc.setup(f)

			_, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent("ride-1"))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestMatching_FailedAssignReleasesClaim(t *testing.T) {
	t.Parallel()

	f := newMatchingFixture(nil)
	f.rides.AddRide(requestedRide("ride-1"))
	f.drivers.AddDriver(availableDriver("driver-1", 0, 0, 5))
	f.rides.AssignError = ErrMockTimeout

	if _, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent("ride-1")); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := f.drivers.GetDriver("driver-1").Status; got != domain.DriverStatusAvailable {
		t.Errorf("expected driver to be released, got %s", got)
	}
}

func TestMatching_ConcurrentRidesNeverShareDriver(t *testing.T) {
	t.Parallel()

	f := newMatchingFixture(nil)
	const rides = 10
	const drivers = 4
	for i := 0; i < rides; i++ {
		f.rides.AddRide(requestedRide(rideID(i)))
	}
	for i := 0; i < drivers; i++ {
		f.drivers.AddDriver(availableDriver(driverID(i), 0, 0, 5))
	}

	var wg sync.WaitGroup
	for i := 0; i < rides; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.service.HandlePriceCalculated(context.Background(), priceCalculatedEvent(rideID(i))); err != nil {
				t.Errorf("ride %d: unexpected error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assigned := make(map[string]string)
	noDriver := 0
	for i := 0; i < rides; i++ {
		ride := f.rides.GetRide(rideID(i))
		switch ride.Status {
		case domain.RideStatusDriverAssigned:
			if other, ok := assigned[ride.DriverID]; ok {
				t.Errorf("driver %s assigned to both %s and %s", ride.DriverID, other, ride.ID)
			}
			assigned[ride.DriverID] = ride.ID
		case domain.RideStatusNoDriverAvailable:
			noDriver++
		default:
			t.Errorf("unexpected status %s for %s", ride.Status, ride.ID)
		}
	}
	if len(assigned) != drivers {
		t.Errorf("expected %d assignments, got %d", drivers, len(assigned))
	}
	if noDriver != rides-drivers {
		t.Errorf("expected %d rides without driver, got %d", rides-drivers, noDriver)
	}
}

func TestNewDriverRanker(t *testing.T) {
	t.Parallel()

	if _, ok := service.NewDriverRanker("proximity").(service.ProximityRanker); !ok {
		t.Error("expected proximity ranker")
	}
	if _, ok := service.NewDriverRanker("unknown").(service.FirstAvailableRanker); !ok {
		t.Error("expected first-available fallback")
	}
}
