package postgres

import (
	"context"
	"database/sql"
	"errors"

	"ridesaga/internal/domain"
	"ridesaga/internal/repository"
)

const paymentColumns = `id, ride_id, rider_id, driver_id, amount, payment_method, status,
	failure_reason, transaction_id, correlation_id, created_at, updated_at`

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

// NewPaymentRepositoryWithTx creates a payment repository using a transaction.
func NewPaymentRepositoryWithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{q: tx}
}

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.q.ExecContext(ctx, query,
		payment.ID,
		payment.RideID,
		payment.RiderID,
		payment.DriverID,
		payment.Amount,
		payment.PaymentMethod,
		payment.Status,
		nullString(payment.FailureReason),
		nullString(payment.TransactionID),
		nullString(payment.CorrelationID),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	return err
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	var payment domain.Payment
	var failureReason, transactionID, correlationID sql.NullString

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&payment.ID,
		&payment.RideID,
		&payment.RiderID,
		&payment.DriverID,
		&payment.Amount,
		&payment.PaymentMethod,
		&payment.Status,
		&failureReason,
		&transactionID,
		&correlationID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	payment.FailureReason = failureReason.String
	payment.TransactionID = transactionID.String
	payment.CorrelationID = correlationID.String

	return &payment, nil
}

// Complete marks an existing payment completed with the gateway transaction id.
func (r *PaymentRepository) Complete(ctx context.Context, id, transactionID string) error {
	query := `UPDATE payments SET status = $1, transaction_id = $2, updated_at = now() WHERE id = $3`
	return r.exec(ctx, query, domain.PaymentStatusCompleted, transactionID, id)
}

// Fail marks an existing payment failed with a reason.
func (r *PaymentRepository) Fail(ctx context.Context, id, reason string) error {
	query := `UPDATE payments SET status = $1, failure_reason = $2, updated_at = now() WHERE id = $3`
	return r.exec(ctx, query, domain.PaymentStatusFailed, reason, id)
}

func (r *PaymentRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}
