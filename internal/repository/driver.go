package repository

import (
	"context"

	"ridesaga/internal/domain"
)

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// ListAvailable scans drivers whose status is available, in storage order.
	ListAvailable(ctx context.Context) ([]*domain.Driver, error)

	// Claim moves a driver from available to busy.
	// Returns ErrConflict if the driver is no longer available and ErrNotFound if it does not exist.
	Claim(ctx context.Context, id string) error

	// UpdateStatus sets the status of an existing driver.
	UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error
}
