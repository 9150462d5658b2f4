package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/bus"
	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/logging"
	"ridesaga/internal/repository"
	"ridesaga/internal/secrets"
)

// PricingConfig contains pricing configuration.
type PricingConfig struct {
	MinBasePrice float64
	MaxBasePrice float64
}

// DefaultPricingConfig returns the default pricing configuration.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		MinBasePrice: 5.0,
		MaxBasePrice: 20.0,
	}
}

// PricingService prices newly created rides.
type PricingService struct {
	calcRepo    repository.PriceCalculationRepository
	multipliers secrets.MultiplierProvider
	publisher   bus.Publisher
	config      PricingConfig
	logger      *logrus.Entry
	float       func() float64
	now         func() time.Time
}

// NewPricingService creates a new PricingService.
func NewPricingService(
	calcRepo repository.PriceCalculationRepository,
	multipliers secrets.MultiplierProvider,
	publisher bus.Publisher,
	config PricingConfig,
	logger logrus.FieldLogger,
) *PricingService {
	return &PricingService{
		calcRepo:    calcRepo,
		multipliers: multipliers,
		publisher:   publisher,
		config:      config,
		logger:      logging.ForService(logger, event.SourcePricingService),
		float:       rand.Float64,
		now:         time.Now,
	}
}

// HandleRideCreated computes the fare, records it and publishes PriceCalculated.
// Missing locations are validation errors. Any other failure is returned for redelivery.
func (s *PricingService) HandleRideCreated(ctx context.Context, evt event.RideCreated) (*domain.PriceCalculation, error) {
	if evt.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if evt.PickupLocation == nil {
		return nil, ErrInvalidPickupLocation
	}
	if evt.DestinationLocation == nil {
		return nil, ErrInvalidDestinationLocation
	}

	multiplier, err := s.multipliers.RushHourMultiplier(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch rush hour multiplier: %w", err)
	}
	if multiplier <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMultiplier, multiplier)
	}

	basePrice := s.basePrice()
	calc := &domain.PriceCalculation{
		ID:              uuid.New().String(),
		RideID:          evt.RideID,
		BasePrice:       basePrice,
		SurgeMultiplier: multiplier,
		FinalPrice:      domain.RoundMoney(basePrice * multiplier),
		DistanceKm:      domain.RoundMoney(domain.DistanceKm(*evt.PickupLocation, *evt.DestinationLocation)),
		CreatedAt:       s.now().UTC(),
	}

	if err := s.calcRepo.Create(ctx, calc); err != nil {
		return nil, fmt.Errorf("store price calculation: %w", err)
	}

	priced := event.PriceCalculated{
		RideID:          evt.RideID,
		RiderID:         evt.RiderID,
		RiderName:       evt.RiderName,
		PickupLocation:  evt.PickupLocation,
		DropoffLocation: evt.DestinationLocation,
		EstimatedPrice:  calc.FinalPrice,
		BasePrice:       calc.BasePrice,
		SurgeMultiplier: calc.SurgeMultiplier,
		Distance:        calc.DistanceKm,
		PaymentMethod:   evt.PaymentMethod,
		Timestamp:       calc.CreatedAt,
		CorrelationID:   evt.CorrelationID,
	}
	if err := s.publisher.Publish(ctx, event.SourcePricingService, priced); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		logging.FieldRideID:        evt.RideID,
		logging.FieldCorrelationID: evt.CorrelationID,
		"base_price":               calc.BasePrice,
		"multiplier":               calc.SurgeMultiplier,
		"final_price":              calc.FinalPrice,
	}).Info("price calculated")

	return calc, nil
}

// basePrice draws uniformly from the configured band, rounded to cents.
func (s *PricingService) basePrice() float64 {
	spread := s.config.MaxBasePrice - s.config.MinBasePrice
	return domain.RoundMoney(s.config.MinBasePrice + s.float()*spread)
}
