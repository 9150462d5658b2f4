package postgres

import (
	"context"
	"database/sql"

	"ridesaga/internal/domain"
)

// PriceCalculationRepository is a PostgreSQL implementation of repository.PriceCalculationRepository.
type PriceCalculationRepository struct {
	q Querier
}

// NewPriceCalculationRepository creates a new PostgreSQL price calculation repository.
func NewPriceCalculationRepository(db *sql.DB) *PriceCalculationRepository {
	return &PriceCalculationRepository{q: db}
}

// Create appends a price calculation.
func (r *PriceCalculationRepository) Create(ctx context.Context, calc *domain.PriceCalculation) error {
	query := `
		INSERT INTO price_calculations (id, ride_id, base_price, surge_multiplier, final_price, distance_km, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.ExecContext(ctx, query,
		calc.ID,
		calc.RideID,
		calc.BasePrice,
		calc.SurgeMultiplier,
		calc.FinalPrice,
		calc.DistanceKm,
		calc.CreatedAt,
	)
	return err
}

// ListByRide returns every calculation recorded for a ride, oldest first.
func (r *PriceCalculationRepository) ListByRide(ctx context.Context, rideID string) ([]*domain.PriceCalculation, error) {
	query := `
		SELECT id, ride_id, base_price, surge_multiplier, final_price, distance_km, created_at
		FROM price_calculations WHERE ride_id = $1 ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, query, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calcs []*domain.PriceCalculation
	for rows.Next() {
		var c domain.PriceCalculation
		if err := rows.Scan(&c.ID, &c.RideID, &c.BasePrice, &c.SurgeMultiplier, &c.FinalPrice, &c.DistanceKm, &c.CreatedAt); err != nil {
			return nil, err
		}
		calcs = append(calcs, &c)
	}
	return calcs, rows.Err()
}
