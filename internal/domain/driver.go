package domain

import "time"

// DriverStatus represents the current status of a driver.
type DriverStatus string

const (
	DriverStatusAvailable DriverStatus = "available"
	DriverStatusBusy      DriverStatus = "busy"
)

// Defaults applied when a driver row is missing optional attributes.
const (
	DefaultDriverName   = "Unknown Driver"
	DefaultDriverRating = 5.0
)

// Driver represents a driver in the system.
type Driver struct {
	ID              string
	Name            string
	CurrentLocation Location
	Status          DriverStatus
	Rating          float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
