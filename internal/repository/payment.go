package repository

import (
	"context"

	"ridesaga/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
type PaymentRepository interface {
	// Create persists a new payment.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by ID.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// Complete marks an existing payment completed with the gateway transaction id.
	Complete(ctx context.Context, id, transactionID string) error

	// Fail marks an existing payment failed with a reason.
	Fail(ctx context.Context, id, reason string) error
}
