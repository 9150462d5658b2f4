package event

import (
	"time"

	"ridesaga/internal/domain"
)

// RideCreated is published by intake once the ride row exists.
type RideCreated struct {
	RideID              string           `json:"rideId"`
	RiderID             string           `json:"riderId"`
	RiderName           string           `json:"riderName"`
	PickupLocation      *domain.Location `json:"pickupLocation"`
	DestinationLocation *domain.Location `json:"destinationLocation"`
	PaymentMethod       string           `json:"paymentMethod"`
	DeviceID            string           `json:"deviceId,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
	CorrelationID       string           `json:"correlationId,omitempty"`
}

func (RideCreated) DetailType() string { return TypeRideCreated }

// PriceCalculated is published by the pricing engine.
type PriceCalculated struct {
	RideID          string           `json:"rideId"`
	RiderID         string           `json:"riderId"`
	RiderName       string           `json:"riderName"`
	PickupLocation  *domain.Location `json:"pickupLocation"`
	DropoffLocation *domain.Location `json:"dropoffLocation"`
	EstimatedPrice  float64          `json:"estimatedPrice"`
	BasePrice       float64          `json:"basePrice"`
	SurgeMultiplier float64          `json:"surgeMultiplier"`
	Distance        float64          `json:"distance"`
	PaymentMethod   string           `json:"paymentMethod"`
	Timestamp       time.Time        `json:"timestamp"`
	CorrelationID   string           `json:"correlationId,omitempty"`
}

func (PriceCalculated) DetailType() string { return TypePriceCalculated }

// DriverAssigned is published by the matcher after the ride row records the driver.
type DriverAssigned struct {
	RideID                  string           `json:"rideId"`
	RiderID                 string           `json:"riderId"`
	RiderName               string           `json:"riderName"`
	DriverID                string           `json:"driverId"`
	DriverName              string           `json:"driverName"`
	EstimatedPrice          float64          `json:"estimatedPrice"`
	BasePrice               float64          `json:"basePrice"`
	SurgeMultiplier         float64          `json:"surgeMultiplier"`
	PickupLocation          *domain.Location `json:"pickupLocation"`
	DropoffLocation         *domain.Location `json:"dropoffLocation"`
	EstimatedArrivalMinutes int              `json:"estimatedArrivalMinutes"`
	DistanceKm              float64          `json:"distanceKm"`
	PaymentMethod           string           `json:"paymentMethod"`
	Timestamp               time.Time        `json:"timestamp"`
	CorrelationID           string           `json:"correlationId,omitempty"`
}

func (DriverAssigned) DetailType() string { return TypeDriverAssigned }

// PaymentCompleted is published by the stream watcher for completed payment rows.
type PaymentCompleted struct {
	PaymentID     string    `json:"paymentId"`
	RideID        string    `json:"rideId"`
	RiderID       string    `json:"riderId"`
	DriverID      string    `json:"driverId"`
	Amount        float64   `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	TransactionID string    `json:"transactionId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func (PaymentCompleted) DetailType() string { return TypePaymentCompleted }

// PaymentFailed is published by the stream watcher for failed payment rows.
type PaymentFailed struct {
	PaymentID     string    `json:"paymentId"`
	RideID        string    `json:"rideId"`
	RiderID       string    `json:"riderId"`
	DriverID      string    `json:"driverId"`
	Amount        float64   `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	FailureReason string    `json:"failureReason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func (PaymentFailed) DetailType() string { return TypePaymentFailed }
