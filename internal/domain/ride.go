package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusRequested         RideStatus = "requested"
	RideStatusDriverAssigned    RideStatus = "driver-assigned"
	RideStatusInProgress        RideStatus = "in-progress"
	RideStatusCompleted         RideStatus = "completed"
	RideStatusCancelled         RideStatus = "cancelled"
	RideStatusPaymentFailed     RideStatus = "payment_failed"
	RideStatusNoDriverAvailable RideStatus = "no-driver-available"
)

// IsTerminal reports whether the saga can no longer move the ride.
func (s RideStatus) IsTerminal() bool {
	switch s {
	case RideStatusCompleted, RideStatusCancelled, RideStatusPaymentFailed:
		return true
	}
	return false
}

// TerminalRideStatuses lists the statuses a ride never leaves.
var TerminalRideStatuses = []RideStatus{
	RideStatusCompleted,
	RideStatusCancelled,
	RideStatusPaymentFailed,
}

// Payment methods known to the saga. Any other non-empty value is passed through as-is.
const (
	PaymentMethodCreditCard     = "credit-card"
	PaymentMethodSomecompanyPay = "somecompany-pay"
	PaymentMethodGooglePay      = "google-pay"
	PaymentMethodCash           = "cash"

	DefaultPaymentMethod = PaymentMethodCreditCard
)

// Synthetic ids injected by load and batch tests. Stages short-circuit on them.
const (
	SentinelRiderID  = "rider-batch-test"
	SentinelDriverID = "driver-batch-test"
)

// Location is a named point on the map.
type Location struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Ride represents a ride request in the system.
type Ride struct {
	ID                  string
	RiderID             string
	RiderName           string
	PickupLocation      Location
	DestinationLocation Location
	Status              RideStatus
	DriverID            string
	EstimatedPrice      float64
	FinalPrice          float64
	PaymentMethod       string
	DeviceID            string
	CorrelationID       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
