package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"ridesaga/internal/domain"
	"ridesaga/internal/repository"
)

const rideColumns = `id, rider_id, rider_name, pickup_address, pickup_lat, pickup_lng,
	destination_address, destination_lat, destination_lng, status, driver_id,
	estimated_price, final_price, payment_method, device_id, correlation_id, created_at, updated_at`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

// NewRideRepositoryWithTx creates a ride repository using a transaction.
func NewRideRepositoryWithTx(tx *sql.Tx) *RideRepository {
	return &RideRepository{q: tx}
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	deviceID := ride.DeviceID
	if deviceID == "" {
		deviceID = "unknown"
	}

	var estimated, final sql.NullFloat64
	if ride.EstimatedPrice > 0 {
		estimated = sql.NullFloat64{Float64: ride.EstimatedPrice, Valid: true}
	}
	if ride.FinalPrice > 0 {
		final = sql.NullFloat64{Float64: ride.FinalPrice, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		ride.ID,
		ride.RiderID,
		ride.RiderName,
		ride.PickupLocation.Address,
		ride.PickupLocation.Latitude,
		ride.PickupLocation.Longitude,
		ride.DestinationLocation.Address,
		ride.DestinationLocation.Latitude,
		ride.DestinationLocation.Longitude,
		ride.Status,
		nullString(ride.DriverID),
		estimated,
		final,
		ride.PaymentMethod,
		deviceID,
		nullString(ride.CorrelationID),
		ride.CreatedAt,
		ride.UpdatedAt,
	)

	return err
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// AssignDriver records the driver and moves a requested ride to driver-assigned.
// A ride that is no longer requested yields ErrConflict, or ErrTerminalStatus once it is terminal.
func (r *RideRepository) AssignDriver(ctx context.Context, rideID, driverID string, estimatedPrice float64) error {
	query := `
		UPDATE rides
		SET driver_id = $1, status = $2, estimated_price = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`

	result, err := r.q.ExecContext(ctx, query,
		driverID,
		domain.RideStatusDriverAssigned,
		estimatedPrice,
		rideID,
		domain.RideStatusRequested,
	)
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

	current, err := r.currentStatus(ctx, rideID)
	if err != nil {
		return err
	}
	if current.IsTerminal() {
		return repository.ErrTerminalStatus
	}
	return repository.ErrConflict
}

// UpdateStatus moves a non-terminal ride to status.
func (r *RideRepository) UpdateStatus(ctx context.Context, id string, status domain.RideStatus) error {
	query := `UPDATE rides SET status = $1, updated_at = now() WHERE id = $2 AND status <> ALL($3)`

	result, err := r.q.ExecContext(ctx, query, status, id, pq.Array(terminalStatuses()))
	if err != nil {
		return err
	}

	return r.checkTransition(ctx, result, id, status)
}

// ListStaleRequested returns rides still requested that were created before the cutoff.
func (r *RideRepository) ListStaleRequested(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3
	`

	rows, err := r.q.QueryContext(ctx, query, domain.RideStatusRequested, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// checkTransition resolves a guarded update that matched no rows.
func (r *RideRepository) checkTransition(ctx context.Context, result sql.Result, id string, target domain.RideStatus) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	current, err := r.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if current == target {
		return nil
	}
	return repository.ErrTerminalStatus
}

func (r *RideRepository) currentStatus(ctx context.Context, id string) (domain.RideStatus, error) {
	var current domain.RideStatus
	err := r.q.QueryRowContext(ctx, `SELECT status FROM rides WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", err
	}
	return current, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var driverID, correlationID sql.NullString
	var estimated, final sql.NullFloat64

	err := row.Scan(
		&ride.ID,
		&ride.RiderID,
		&ride.RiderName,
		&ride.PickupLocation.Address,
		&ride.PickupLocation.Latitude,
		&ride.PickupLocation.Longitude,
		&ride.DestinationLocation.Address,
		&ride.DestinationLocation.Latitude,
		&ride.DestinationLocation.Longitude,
		&ride.Status,
		&driverID,
		&estimated,
		&final,
		&ride.PaymentMethod,
		&ride.DeviceID,
		&correlationID,
		&ride.CreatedAt,
		&ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ride.DriverID = driverID.String
	ride.CorrelationID = correlationID.String
	ride.EstimatedPrice = estimated.Float64
	ride.FinalPrice = final.Float64

	return &ride, nil
}

func terminalStatuses() []string {
	out := make([]string, len(domain.TerminalRideStatuses))
	for i, s := range domain.TerminalRideStatuses {
		out[i] = string(s)
	}
	return out
}
