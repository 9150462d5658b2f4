package repository

import "context"

// TxRepositories are repositories bound to a single transaction.
type TxRepositories struct {
	Rides   RideRepository
	Drivers DriverRepository
}

// Transactor runs a unit of work atomically. If fn returns an error nothing it wrote is kept.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
