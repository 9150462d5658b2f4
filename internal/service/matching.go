package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"ridesaga/internal/bus"
	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
	"ridesaga/internal/redis"
	"ridesaga/internal/repository"
)

const defaultRideLockTTL = 30 * time.Second // Lock ride during matching

// errRideTaken marks an assignment that lost to a concurrent match of the same ride.
var errRideTaken = errors.New("ride assigned by a concurrent match")

// DriverRanker orders candidate drivers for a pickup. The matcher claims the first one it can.
type DriverRanker interface {
	Rank(pickup domain.Location, drivers []*domain.Driver) []*domain.Driver
}

// FirstAvailableRanker keeps scan order.
type FirstAvailableRanker struct{}

// Rank returns drivers unchanged.
func (FirstAvailableRanker) Rank(_ domain.Location, drivers []*domain.Driver) []*domain.Driver {
	return drivers
}

// ProximityRanker prefers the closest driver, then the best rated.
type ProximityRanker struct{}

// Rank sorts a copy of drivers by distance to pickup, then rating descending.
func (ProximityRanker) Rank(pickup domain.Location, drivers []*domain.Driver) []*domain.Driver {
	ranked := append([]*domain.Driver(nil), drivers...)
	sort.SliceStable(ranked, func(i, j int) bool {
		di := domain.DistanceKm(pickup, ranked[i].CurrentLocation)
		dj := domain.DistanceKm(pickup, ranked[j].CurrentLocation)
		if di != dj {
			return di < dj
		}
		return ranked[i].Rating > ranked[j].Rating
	})
	return ranked
}

// NewDriverRanker returns the ranker registered under name. Unknown names fall back to scan order.
func NewDriverRanker(name string) DriverRanker {
	if name == "proximity" {
		return ProximityRanker{}
	}
	return FirstAvailableRanker{}
}

// MatchingService assigns an available driver to a priced ride.
type MatchingService struct {
	rideRepo    repository.RideRepository
	driverRepo  repository.DriverRepository
	transactor  repository.Transactor
	lockStore   redis.LockStoreInterface
	publisher   bus.Publisher
	ranker      DriverRanker
	rideLockTTL time.Duration
	logger      *logrus.Entry
	now         func() time.Time
}

// NewMatchingService creates a new MatchingService. lockStore may be nil.
func NewMatchingService(
	rideRepo repository.RideRepository,
	driverRepo repository.DriverRepository,
	transactor repository.Transactor,
	lockStore redis.LockStoreInterface,
	publisher bus.Publisher,
	ranker DriverRanker,
	rideLockTTL time.Duration,
	logger logrus.FieldLogger,
) *MatchingService {
	if ranker == nil {
		ranker = FirstAvailableRanker{}
	}
	if rideLockTTL <= 0 {
		rideLockTTL = defaultRideLockTTL
	}
	return &MatchingService{
		rideRepo:    rideRepo,
		driverRepo:  driverRepo,
		transactor:  transactor,
		lockStore:   lockStore,
		publisher:   publisher,
		ranker:      ranker,
		rideLockTTL: rideLockTTL,
		logger:      logging.ForService(logger, event.SourceMatchingService),
		now:         time.Now,
	}
}

// MatchResult contains the outcome of a matching attempt.
type MatchResult struct {
	Assigned bool
	DriverID string
	Ride     *domain.Ride

	// Replayed is true when the ride was already assigned and DriverAssigned was re-sent.
	Replayed bool
}

// HandlePriceCalculated matches a driver to the priced ride.
//
// No available driver is a business outcome: the ride becomes no-driver-available and no error is returned.
// Storage and publish failures are returned so the event is redelivered.
func (s *MatchingService) HandlePriceCalculated(ctx context.Context, evt event.PriceCalculated) (*MatchResult, error) {
	if evt.RideID == "" {
		return nil, ErrInvalidRideID
	}

	log := s.logger.WithFields(logrus.Fields{
		logging.FieldRideID:        evt.RideID,
		logging.FieldCorrelationID: evt.CorrelationID,
	})

	if s.lockStore != nil {
		locked, err := s.lockStore.AcquireRideLock(ctx, evt.RideID, s.rideLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire ride lock: %w", err)
		}
		if !locked {
			return nil, ErrMatchInProgress
		}
		defer func() {
			if err := s.lockStore.ReleaseRideLock(ctx, evt.RideID); err != nil {
				log.WithError(err).Warn("failed to release ride lock")
			}
		}()
	}

	ride, err := s.rideRepo.GetByID(ctx, evt.RideID)
	if err != nil {
		return nil, fmt.Errorf("load ride %s: %w", evt.RideID, err)
	}

	switch ride.Status {
	case domain.RideStatusRequested:
	case domain.RideStatusDriverAssigned:
		return s.replay(ctx, evt, ride, log)
	default:
		log.WithField("status", ride.Status).Info("ride no longer awaiting a driver")
		return &MatchResult{Ride: ride}, nil
	}

	drivers, err := s.driverRepo.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan available drivers: %w", err)
	}

	pickup := ride.PickupLocation
	if evt.PickupLocation != nil {
		pickup = *evt.PickupLocation
	}

	driver, err := s.claimFirst(ctx, ride.ID, evt.EstimatedPrice, s.ranker.Rank(pickup, drivers))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTerminalStatus):
			log.Info("ride reached a terminal status during matching")
			return &MatchResult{Ride: ride}, nil
		case errors.Is(err, errRideTaken):
			return s.resolveTaken(ctx, evt, log)
		}
		return nil, err
	}

	if driver == nil {
		err := s.rideRepo.UpdateStatus(ctx, ride.ID, domain.RideStatusNoDriverAvailable)
		if err != nil && !errors.Is(err, repository.ErrTerminalStatus) {
			return nil, fmt.Errorf("mark ride %s without driver: %w", ride.ID, err)
		}
		ride.Status = domain.RideStatusNoDriverAvailable
		log.WithField("candidates", len(drivers)).Warn("no driver available")
		return &MatchResult{Ride: ride}, nil
	}

	ride.Status = domain.RideStatusDriverAssigned
	ride.DriverID = driver.ID
	ride.EstimatedPrice = evt.EstimatedPrice

	if err := s.publisher.Publish(ctx, event.SourceMatchingService, driverAssignedEvent(evt, driver, s.now())); err != nil {
		return nil, err
	}

	log.WithField(logging.FieldDriverID, driver.ID).Info("driver assigned")
	return &MatchResult{Assigned: true, DriverID: driver.ID, Ride: ride}, nil
}

// claimFirst walks candidates until one is claimed and the ride records it in the same transaction.
// Returns nil when every candidate was taken by someone else.
func (s *MatchingService) claimFirst(ctx context.Context, rideID string, price float64, candidates []*domain.Driver) (*domain.Driver, error) {
	for _, d := range candidates {
		err := s.transactor.WithinTx(ctx, func(ctx context.Context, repos repository.TxRepositories) error {
			if err := repos.Drivers.Claim(ctx, d.ID); err != nil {
				return err
			}
			if err := repos.Rides.AssignDriver(ctx, rideID, d.ID, price); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return errRideTaken
				}
				return err
			}
			return nil
		})
		switch {
		case err == nil:
			return d, nil
		case errors.Is(err, errRideTaken):
			return nil, err
		case errors.Is(err, repository.ErrConflict):
			continue
		case errors.Is(err, repository.ErrNotFound):
			// Either the driver vanished mid-scan or the ride did. Only the latter is fatal.
			if _, getErr := s.rideRepo.GetByID(ctx, rideID); getErr != nil {
				return nil, fmt.Errorf("assign ride %s: %w", rideID, err)
			}
			continue
		default:
			return nil, fmt.Errorf("assign ride %s to %s: %w", rideID, d.ID, err)
		}
	}
	return nil, nil
}

// resolveTaken handles a ride that another invocation assigned between our read and our update.
// The claim has been rolled back; the winner's assignment is re-sent.
func (s *MatchingService) resolveTaken(ctx context.Context, evt event.PriceCalculated, log *logrus.Entry) (*MatchResult, error) {
	ride, err := s.rideRepo.GetByID(ctx, evt.RideID)
	if err != nil {
		return nil, fmt.Errorf("reload ride %s: %w", evt.RideID, err)
	}
	if ride.Status != domain.RideStatusDriverAssigned {
		log.WithField("status", ride.Status).Info("ride left requested during matching")
		return &MatchResult{Ride: ride}, nil
	}
	return s.replay(ctx, evt, ride, log)
}

// replay re-sends DriverAssigned for a ride that was assigned by an earlier delivery.
// The recorded price wins over the quote on the incoming event.
func (s *MatchingService) replay(ctx context.Context, evt event.PriceCalculated, ride *domain.Ride, log *logrus.Entry) (*MatchResult, error) {
	driver, err := s.driverRepo.GetByID(ctx, ride.DriverID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load driver %s: %w", ride.DriverID, err)
		}
		driver = &domain.Driver{ID: ride.DriverID, Name: domain.DefaultDriverName, Rating: domain.DefaultDriverRating}
	}

	assigned := driverAssignedEvent(evt, driver, s.now())
	if ride.EstimatedPrice > 0 && ride.EstimatedPrice != evt.EstimatedPrice {
		// Base and surge belong to the newer quote.
		assigned.EstimatedPrice = ride.EstimatedPrice
		assigned.BasePrice = 0
		assigned.SurgeMultiplier = 0
	}

	if err := s.publisher.Publish(ctx, event.SourceMatchingService, assigned); err != nil {
		return nil, err
	}

	log.WithField(logging.FieldDriverID, driver.ID).Info("ride already assigned, DriverAssigned re-sent")
	return &MatchResult{Assigned: true, DriverID: driver.ID, Ride: ride, Replayed: true}, nil
}

func driverAssignedEvent(evt event.PriceCalculated, driver *domain.Driver, now time.Time) event.DriverAssigned {
	return event.DriverAssigned{
		RideID:          evt.RideID,
		RiderID:         evt.RiderID,
		RiderName:       evt.RiderName,
		DriverID:        driver.ID,
		DriverName:      driver.Name,
		EstimatedPrice:  evt.EstimatedPrice,
		BasePrice:       evt.BasePrice,
		SurgeMultiplier: evt.SurgeMultiplier,
		PickupLocation:  evt.PickupLocation,
		DropoffLocation: evt.DropoffLocation,
		DistanceKm:      evt.Distance,
		PaymentMethod:   evt.PaymentMethod,
		Timestamp:       now.UTC(),
		CorrelationID:   evt.CorrelationID,
	}
}
