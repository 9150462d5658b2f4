package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/bus"
	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
	"ridesaga/internal/repository"
)

// RideService handles ride intake.
type RideService struct {
	rideRepo  repository.RideRepository
	publisher bus.Publisher
	logger    *logrus.Entry
	now       func() time.Time
}

// NewRideService creates a new RideService.
func NewRideService(rideRepo repository.RideRepository, publisher bus.Publisher, logger logrus.FieldLogger) *RideService {
	return &RideService{
		rideRepo:  rideRepo,
		publisher: publisher,
		logger:    logging.ForService(logger, event.SourceRideService),
		now:       time.Now,
	}
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	RiderID             string
	RiderName           string
	PickupLocation      *domain.Location
	DestinationLocation *domain.Location
	PaymentMethod       string // Optional: defaults to credit-card
	DeviceID            string
	CorrelationID       string
}

// CreateRideResponse contains the result of creating a ride.
type CreateRideResponse struct {
	Ride *domain.Ride

	// Published is false when the ride was stored but RideCreated could not be sent.
	// The reconciler republishes such rides.
	Published bool
}

// CreateRide validates the request, stores the ride and announces it.
// The ride row is written before the event so a consumer never sees an event for a missing ride.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*CreateRideResponse, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = domain.DefaultPaymentMethod
	}

	now := s.now().UTC()
	ride := &domain.Ride{
		ID:                  uuid.New().String(),
		RiderID:             req.RiderID,
		RiderName:           req.RiderName,
		PickupLocation:      *req.PickupLocation,
		DestinationLocation: *req.DestinationLocation,
		Status:              domain.RideStatusRequested,
		PaymentMethod:       paymentMethod,
		DeviceID:            req.DeviceID,
		CorrelationID:       req.CorrelationID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		logging.FieldRideID:        ride.ID,
		logging.FieldCorrelationID: ride.CorrelationID,
	})

	resp := &CreateRideResponse{Ride: ride, Published: true}
	if err := s.publisher.Publish(ctx, event.SourceRideService, RideCreatedEvent(ride)); err != nil {
		newrelic.FromContext(ctx).NoticeError(err)
		log.WithError(err).Error("ride stored but RideCreated was not published")
		resp.Published = false
		return resp, nil
	}

	log.Info("ride created")
	return resp, nil
}

// RideCreatedEvent builds the RideCreated payload for a stored ride.
func RideCreatedEvent(ride *domain.Ride) event.RideCreated {
	pickup := ride.PickupLocation
	destination := ride.DestinationLocation
	return event.RideCreated{
		RideID:              ride.ID,
		RiderID:             ride.RiderID,
		RiderName:           ride.RiderName,
		PickupLocation:      &pickup,
		DestinationLocation: &destination,
		PaymentMethod:       ride.PaymentMethod,
		DeviceID:            ride.DeviceID,
		Timestamp:           ride.CreatedAt,
		CorrelationID:       ride.CorrelationID,
	}
}

func validateCreateRequest(req CreateRideRequest) error {
	if req.RiderID == "" {
		return ErrInvalidRiderID
	}
	if req.RiderName == "" {
		return ErrInvalidRiderName
	}
	if req.PickupLocation == nil || !domain.ValidCoordinates(*req.PickupLocation) {
		return ErrInvalidPickupLocation
	}
	if req.DestinationLocation == nil || !domain.ValidCoordinates(*req.DestinationLocation) {
		return ErrInvalidDestinationLocation
	}
	if req.DeviceID == "" {
		return ErrInvalidDeviceID
	}
	return nil
}

// GetRide retrieves a ride by ID.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	return s.rideRepo.GetByID(ctx, rideID)
}
