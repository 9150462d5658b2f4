package tests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ridesaga/internal/domain"
	"ridesaga/internal/event"
	"ridesaga/internal/gateway"
	"ridesaga/internal/redis"
	"ridesaga/internal/repository"
	"ridesaga/internal/service"
)

// ──────────────────────────────────────────────
// MOCK DRIVER REPOSITORY
// ──────────────────────────────────────────────

// MockDriverRepository is a mock implementation of DriverRepository.
type MockDriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver
	order   []string

	// Counters for verification
	CreateCallCount       int32
	ClaimCallCount        int32
	UpdateStatusCallCount int32

	// Error injection
	CreateError        error
	ListAvailableError error
	UpdateStatusError  error
}

// NewMockDriverRepository creates a new mock driver repository.
func NewMockDriverRepository() *MockDriverRepository {
	return &MockDriverRepository{
		drivers: make(map[string]*domain.Driver),
	}
}

// AddDriver adds a driver to the mock repository. Scan order is insertion order.
func (m *MockDriverRepository) AddDriver(driver *domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[driver.ID]; !ok {
		m.order = append(m.order, driver.ID)
	}
	m.drivers[driver.ID] = driver
}

func (m *MockDriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.AddDriver(driver)
	return nil
}

func (m *MockDriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	driver, ok := m.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *driver
	return &copy, nil
}

func (m *MockDriverRepository) ListAvailable(ctx context.Context) ([]*domain.Driver, error) {
	if m.ListAvailableError != nil {
		return nil, m.ListAvailableError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Driver, 0, len(m.drivers))
	for _, id := range m.order {
		d := m.drivers[id]
		if d.Status == domain.DriverStatusAvailable {
			copy := *d
			result = append(result, &copy)
		}
	}
	return result, nil
}

func (m *MockDriverRepository) Claim(ctx context.Context, id string) error {
	atomic.AddInt32(&m.ClaimCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	if driver.Status != domain.DriverStatusAvailable {
		return repository.ErrConflict
	}
	driver.Status = domain.DriverStatusBusy
	return nil
}

func (m *MockDriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	driver.Status = status
	return nil
}

func (m *MockDriverRepository) setStatus(id string, status domain.DriverStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[id]; ok {
		d.Status = status
	}
}

// GetDriver returns driver for test assertions.
func (m *MockDriverRepository) GetDriver(id string) *domain.Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drivers[id]
}

// CountByStatus counts drivers in a status.
func (m *MockDriverRepository) CountByStatus(status domain.DriverStatus) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, d := range m.drivers {
		if d.Status == status {
			count++
		}
	}
	return count
}

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is a mock implementation of RideRepository.
// Status guards follow the Postgres repository.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	// Counters for verification
	CreateCallCount       int32
	AssignCallCount       int32
	UpdateStatusCallCount int32

	// Error injection
	CreateError       error
	GetError          error
	AssignError       error
	UpdateStatusError error
	ListError         error
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[string]*domain.Ride),
	}
}

// AddRide adds a ride to the mock repository.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = ride
}

// DeleteRide removes a ride, simulating a row that vanished.
func (m *MockRideRepository) DeleteRide(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rides, id)
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *ride
	m.rides[ride.ID] = &copy
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *ride
	return &copy, nil
}

func (m *MockRideRepository) AssignDriver(ctx context.Context, rideID, driverID string, estimatedPrice float64) error {
	atomic.AddInt32(&m.AssignCallCount, 1)
	if m.AssignError != nil {
		return m.AssignError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok {
		return repository.ErrNotFound
	}
	if ride.Status.IsTerminal() {
		return repository.ErrTerminalStatus
	}
	if ride.Status != domain.RideStatusRequested {
		return repository.ErrConflict
	}
	ride.DriverID = driverID
	ride.EstimatedPrice = estimatedPrice
	ride.Status = domain.RideStatusDriverAssigned
	ride.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockRideRepository) UpdateStatus(ctx context.Context, id string, status domain.RideStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return repository.ErrNotFound
	}
	if ride.Status == status {
		return nil
	}
	if ride.Status.IsTerminal() {
		return repository.ErrTerminalStatus
	}
	ride.Status = status
	ride.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockRideRepository) ListStaleRequested(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Ride, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Ride, 0)
	for _, r := range m.rides {
		if r.Status == domain.RideStatusRequested && r.CreatedAt.Before(createdBefore) {
			copy := *r
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetRide returns the ride by ID (for test assertions).
func (m *MockRideRepository) GetRide(id string) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rides[id]
}

// CountRides returns the number of rides.
func (m *MockRideRepository) CountRides() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// ──────────────────────────────────────────────
// MOCK TRANSACTOR
// ──────────────────────────────────────────────

// MockTransactor runs units of work against the mock repositories.
// On error the driver claim made inside the unit is undone.
type MockTransactor struct {
	Rides   *MockRideRepository
	Drivers *MockDriverRepository

	// Counters
	TxCallCount int32
}

// NewMockTransactor creates a transactor over the given mocks.
func NewMockTransactor(rides *MockRideRepository, drivers *MockDriverRepository) *MockTransactor {
	return &MockTransactor{Rides: rides, Drivers: drivers}
}

func (m *MockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.TxRepositories) error) error {
	atomic.AddInt32(&m.TxCallCount, 1)
	tracker := &claimTracker{MockDriverRepository: m.Drivers}
	err := fn(ctx, repository.TxRepositories{Rides: m.Rides, Drivers: tracker})
	if err != nil {
		for _, id := range tracker.claimed {
			m.Drivers.setStatus(id, domain.DriverStatusAvailable)
		}
	}
	return err
}

type claimTracker struct {
	*MockDriverRepository
	claimed []string
}

func (c *claimTracker) Claim(ctx context.Context, id string) error {
	if err := c.MockDriverRepository.Claim(ctx, id); err != nil {
		return err
	}
	c.claimed = append(c.claimed, id)
	return nil
}

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentRepository is a mock implementation of PaymentRepository.
type MockPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment

	// Counters
	CreateCallCount int32

	// Error injection
	CreateError   error
	CompleteError error
	FailError     error
}

// NewMockPaymentRepository creates a new mock payment repository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[string]*domain.Payment),
	}
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *payment
	m.payments[payment.ID] = &copy
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payment, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *payment
	return &copy, nil
}

func (m *MockPaymentRepository) Complete(ctx context.Context, id, transactionID string) error {
	if m.CompleteError != nil {
		return m.CompleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	payment.Status = domain.PaymentStatusCompleted
	payment.TransactionID = transactionID
	return nil
}

func (m *MockPaymentRepository) Fail(ctx context.Context, id, reason string) error {
	if m.FailError != nil {
		return m.FailError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = reason
	return nil
}

// CountPayments returns the number of payments.
func (m *MockPaymentRepository) CountPayments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payments)
}

// GetPaymentByRideID returns the first payment for a ride.
func (m *MockPaymentRepository) GetPaymentByRideID(rideID string) *domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.RideID == rideID {
			return p
		}
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK PRICE CALCULATION REPOSITORY
// ──────────────────────────────────────────────

// MockPriceCalculationRepository is a mock implementation of PriceCalculationRepository.
type MockPriceCalculationRepository struct {
	mu    sync.RWMutex
	calcs []*domain.PriceCalculation

	// Error injection
	CreateError error
	ListError   error
}

// NewMockPriceCalculationRepository creates a new mock price calculation repository.
func NewMockPriceCalculationRepository() *MockPriceCalculationRepository {
	return &MockPriceCalculationRepository{}
}

func (m *MockPriceCalculationRepository) Create(ctx context.Context, calc *domain.PriceCalculation) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *calc
	m.calcs = append(m.calcs, &copy)
	return nil
}

func (m *MockPriceCalculationRepository) ListByRide(ctx context.Context, rideID string) ([]*domain.PriceCalculation, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.PriceCalculation
	for _, c := range m.calcs {
		if c.RideID == rideID {
			copy := *c
			result = append(result, &copy)
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]time.Time

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error

	// Force lock failure
	ForceAcquireFailure bool
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]time.Time),
	}
}

func (m *MockLockStore) AcquireRideLock(ctx context.Context, rideID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	if m.ForceAcquireFailure {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := "lock:ride:" + rideID
	if expiry, exists := m.locks[key]; exists {
		if time.Now().Before(expiry) {
			return false, nil // Lock still held.
		}
	}

	m.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockLockStore) ReleaseRideLock(ctx context.Context, rideID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, "lock:ride:"+rideID)
	return nil
}

// IsLocked checks if a ride is locked (for test assertions).
func (m *MockLockStore) IsLocked(rideID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, exists := m.locks["lock:ride:"+rideID]
	return exists && time.Now().Before(expiry)
}

// ──────────────────────────────────────────────
// MOCK IDEMPOTENCY STORE
// ──────────────────────────────────────────────

// MockIdempotencyStore is an in-memory IdempotencyStore with SETNX semantics.
type MockIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*redis.IdempotencyRecord

	// Counters
	BeginCallCount   int32
	AbandonCallCount int32

	// Error injection
	GetError      error
	ChargedError  error
	CompleteError error
}

// NewMockIdempotencyStore creates a new mock idempotency store.
func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{
		records: make(map[string]*redis.IdempotencyRecord),
	}
}

func (m *MockIdempotencyStore) Get(ctx context.Context, fingerprint string) (*redis.IdempotencyRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[fingerprint]
	if !ok || time.Now().After(record.ExpiresAt) {
		return nil, nil
	}
	copy := *record
	return &copy, nil
}

func (m *MockIdempotencyStore) Begin(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.BeginCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[fingerprint]; ok && time.Now().Before(record.ExpiresAt) {
		return false, nil
	}
	m.records[fingerprint] = &redis.IdempotencyRecord{
		Status:    redis.IdempotencyInProgress,
		ExpiresAt: time.Now().Add(ttl),
	}
	return true, nil
}

func (m *MockIdempotencyStore) Charged(ctx context.Context, fingerprint string, result []byte, ttl time.Duration) error {
	if m.ChargedError != nil {
		return m.ChargedError
	}
	m.set(fingerprint, redis.IdempotencyCharged, result, ttl)
	return nil
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, fingerprint string, result []byte, ttl time.Duration) error {
	if m.CompleteError != nil {
		return m.CompleteError
	}
	m.set(fingerprint, redis.IdempotencyCompleted, result, ttl)
	return nil
}

func (m *MockIdempotencyStore) set(fingerprint string, status redis.IdempotencyStatus, result []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[fingerprint] = &redis.IdempotencyRecord{
		Status:    status,
		Result:    json.RawMessage(result),
		ExpiresAt: time.Now().Add(ttl),
	}
}

func (m *MockIdempotencyStore) Abandon(ctx context.Context, fingerprint string) error {
	atomic.AddInt32(&m.AbandonCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, fingerprint)
	return nil
}

// Put seeds a record (for test setup).
func (m *MockIdempotencyStore) Put(fingerprint string, record *redis.IdempotencyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[fingerprint] = record
}

// Record returns the stored record for assertions.
func (m *MockIdempotencyStore) Record(fingerprint string) *redis.IdempotencyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[fingerprint]
}

// ──────────────────────────────────────────────
// MOCK GATEWAY (Payment Service Provider)
// ──────────────────────────────────────────────

// MockGateway is a mock payment service provider.
type MockGateway struct {
	mu sync.Mutex

	// Control behavior
	ShouldDecline bool
	FailError     error

	// Counters
	ChargeCallCount int32
}

// NewMockGateway creates a new mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	atomic.AddInt32(&m.ChargeCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailError != nil {
		return nil, m.FailError
	}
	if m.ShouldDecline {
		return &gateway.ChargeResult{DeclineReason: gateway.DeclineReason}, nil
	}
	return &gateway.ChargeResult{Approved: true, TransactionID: "txn_mock0001"}, nil
}

// SetDecline configures the gateway to decline or fail.
func (m *MockGateway) SetDecline(decline bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldDecline = decline
	m.FailError = err
}

// ──────────────────────────────────────────────
// MOCK MULTIPLIER PROVIDER
// ──────────────────────────────────────────────

// MockMultiplierProvider returns a fixed multiplier.
type MockMultiplierProvider struct {
	Multiplier float64
	Err        error

	// Counters
	CallCount int32
}

func (m *MockMultiplierProvider) RushHourMultiplier(ctx context.Context) (float64, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Multiplier, nil
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []event.Detail

	// Error injection
	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, source string, d event.Detail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishError != nil {
		return m.PublishError
	}
	m.events = append(m.events, d)
	return nil
}

// SetError configures Publish to fail.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishError = err
}

// Events returns published events of a detail type.
func (m *MockPublisher) Events(detailType string) []event.Detail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []event.Detail
	for _, d := range m.events {
		if d.DetailType() == detailType {
			result = append(result, d)
		}
	}
	return result
}

// Count returns the number of published events.
func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// MockNotifier records notifications.
type MockNotifier struct {
	Err error

	// Counters
	CompletedCount int32
	FailedCount    int32
}

func (m *MockNotifier) NotifyRideCompleted(ctx context.Context, outcome service.PaymentOutcome) error {
	atomic.AddInt32(&m.CompletedCount, 1)
	return m.Err
}

func (m *MockNotifier) NotifyPaymentFailed(ctx context.Context, outcome service.PaymentOutcome) error {
	atomic.AddInt32(&m.FailedCount, 1)
	return m.Err
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBConstraint = errors.New("mock: unique constraint violation")
	ErrMockTimeout      = errors.New("mock: operation timeout")
	ErrMockUnavailable  = errors.New("mock: service unavailable")
)

// Ensure mocks implement interfaces.
var (
	_ repository.RideRepository             = (*MockRideRepository)(nil)
	_ repository.DriverRepository           = (*MockDriverRepository)(nil)
	_ repository.PaymentRepository          = (*MockPaymentRepository)(nil)
	_ repository.PriceCalculationRepository = (*MockPriceCalculationRepository)(nil)
	_ repository.Transactor                 = (*MockTransactor)(nil)
	_ redis.LockStoreInterface              = (*MockLockStore)(nil)
	_ redis.IdempotencyStoreInterface       = (*MockIdempotencyStore)(nil)
	_ gateway.Gateway                       = (*MockGateway)(nil)
	_ service.Notifier                      = (*MockNotifier)(nil)
)

func atomicLoad(v *int32) int32 {
	return atomic.LoadInt32(v)
}

func rideID(i int) string {
	return fmt.Sprintf("ride-%03d", i)
}

func driverID(i int) string {
	return fmt.Sprintf("driver-%03d", i)
}
