package repository

import (
	"context"

	"ridesaga/internal/domain"
)

// PriceCalculationRepository defines the persistence operations for pricing audit rows.
type PriceCalculationRepository interface {
	// Create appends a price calculation.
	Create(ctx context.Context, calc *domain.PriceCalculation) error

	// ListByRide returns every calculation recorded for a ride, oldest first.
	ListByRide(ctx context.Context, rideID string) ([]*domain.PriceCalculation, error)
}
