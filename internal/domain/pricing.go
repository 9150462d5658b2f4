package domain

import "time"

// PriceCalculation is an audit row for one pricing decision.
// A redelivered RideCreated appends another row for the same ride.
type PriceCalculation struct {
	ID              string
	RideID          string
	BasePrice       float64
	SurgeMultiplier float64
	FinalPrice      float64
	DistanceKm      float64
	CreatedAt       time.Time
}
