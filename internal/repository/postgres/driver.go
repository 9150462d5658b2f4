package postgres

import (
	"context"
	"database/sql"
	"errors"

	"ridesaga/internal/domain"
	"ridesaga/internal/repository"
)

const driverColumns = `id, name, address, lat, lng, status, rating, created_at, updated_at`

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// NewDriverRepository creates a new PostgreSQL driver repository.
func NewDriverRepository(db *sql.DB) *DriverRepository {
	return &DriverRepository{q: db}
}

// NewDriverRepositoryWithTx creates a driver repository using a transaction.
func NewDriverRepositoryWithTx(tx *sql.Tx) *DriverRepository {
	return &DriverRepository{q: tx}
}

// Create adds a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	query := `INSERT INTO drivers (` + driverColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.ExecContext(ctx, query,
		driver.ID,
		nullString(driver.Name),
		driver.CurrentLocation.Address,
		driver.CurrentLocation.Latitude,
		driver.CurrentLocation.Longitude,
		driver.Status,
		driver.Rating,
		driver.CreatedAt,
		driver.UpdatedAt,
	)
	return err
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

	driver, err := scanDriver(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return driver, nil
}

// ListAvailable scans drivers whose status is available.
func (r *DriverRepository) ListAvailable(ctx context.Context) ([]*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE status = $1 ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, domain.DriverStatusAvailable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*domain.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, driver)
	}
	return drivers, rows.Err()
}

// Claim moves a driver from available to busy.
func (r *DriverRepository) Claim(ctx context.Context, id string) error {
	query := `UPDATE drivers SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`

	result, err := r.q.ExecContext(ctx, query, domain.DriverStatusBusy, id, domain.DriverStatusAvailable)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM drivers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// UpdateStatus sets the status of an existing driver.
func (r *DriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	query := `UPDATE drivers SET status = $1, updated_at = now() WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, status, id)
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

func scanDriver(row rowScanner) (*domain.Driver, error) {
	var driver domain.Driver
	var name sql.NullString
	var rating sql.NullFloat64

	err := row.Scan(
		&driver.ID,
		&name,
		&driver.CurrentLocation.Address,
		&driver.CurrentLocation.Latitude,
		&driver.CurrentLocation.Longitude,
		&driver.Status,
		&rating,
		&driver.CreatedAt,
		&driver.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	driver.Name = domain.DefaultDriverName
	if name.Valid && name.String != "" {
		driver.Name = name.String
	}
	driver.Rating = domain.DefaultDriverRating
	if rating.Valid {
		driver.Rating = rating.Float64
	}

	return &driver, nil
}
