package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"ridesaga/internal/repository"
)

//go:embed schema.sql
var schema string

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)

	_ repository.RideRepository             = (*RideRepository)(nil)
	_ repository.DriverRepository           = (*DriverRepository)(nil)
	_ repository.PaymentRepository          = (*PaymentRepository)(nil)
	_ repository.PriceCalculationRepository = (*PriceCalculationRepository)(nil)
	_ repository.Transactor                 = (*Transactor)(nil)
)

// Migrate applies the schema, including the payment change trigger. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Transactor runs work inside a database transaction.
type Transactor struct {
	db *sql.DB
}

// NewTransactor creates a new Transactor.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx begins a transaction, hands transaction-scoped repositories to fn and commits if fn succeeds.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.TxRepositories) error) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fn(ctx, repository.TxRepositories{
		Rides:   NewRideRepositoryWithTx(tx),
		Drivers: NewDriverRepositoryWithTx(tx),
	})
	if err != nil {
		return err
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
