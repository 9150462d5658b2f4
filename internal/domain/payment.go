package domain

import (
	"strings"
	"time"
)

// PaymentStatus represents the status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// PoisonMarker in a payment id makes the stream watcher reject the record.
const PoisonMarker = "POISON"

// Payment represents a payment attempt for a ride.
type Payment struct {
	ID            string
	RideID        string
	RiderID       string
	DriverID      string
	Amount        float64
	PaymentMethod string
	Status        PaymentStatus
	FailureReason string
	TransactionID string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPoison reports whether the payment id carries the poison marker.
func IsPoison(paymentID string) bool {
	return strings.Contains(paymentID, PoisonMarker)
}
