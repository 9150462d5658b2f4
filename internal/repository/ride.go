package repository

import (
	"context"
	"time"

	"ridesaga/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// AssignDriver records the driver and moves the ride to driver-assigned.
	// Returns ErrNotFound if the ride does not exist and ErrTerminalStatus if it is terminal.
	AssignDriver(ctx context.Context, rideID, driverID string, estimatedPrice float64) error

	// UpdateStatus moves a non-terminal ride to status.
	// Re-applying the status the ride already holds is a no-op.
	// Returns ErrNotFound if the ride does not exist and ErrTerminalStatus if it is terminal.
	UpdateStatus(ctx context.Context, id string, status domain.RideStatus) error

	// ListStaleRequested returns rides still requested that were created before the cutoff.
	ListStaleRequested(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Ride, error)
}
