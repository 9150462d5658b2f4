package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"ridesaga/internal/domain"
	"ridesaga/internal/repository"
)

var (
	seedFirstNames = []string{
		"John", "Maria", "David", "Sarah", "Ahmed", "Emma", "Carlos", "Lisa",
		"Michael", "Anna", "James", "Sofia", "Robert", "Isabella", "Thomas",
		"Jennifer", "William", "Patricia", "Richard", "Linda",
	}
	seedLastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
		"Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson",
	}
	// San Francisco neighbourhoods.
	seedLocations = []domain.Location{
		{Address: "Financial District", Latitude: 37.7946, Longitude: -122.3999},
		{Address: "Mission District", Latitude: 37.7599, Longitude: -122.4148},
		{Address: "SOMA", Latitude: 37.7849, Longitude: -122.4094},
		{Address: "Castro", Latitude: 37.7609, Longitude: -122.4350},
		{Address: "Richmond", Latitude: 37.7806, Longitude: -122.4644},
		{Address: "Nob Hill", Latitude: 37.7928, Longitude: -122.4161},
		{Address: "Haight-Ashbury", Latitude: 37.7692, Longitude: -122.4481},
		{Address: "Chinatown", Latitude: 37.7941, Longitude: -122.4078},
		{Address: "Pacific Heights", Latitude: 37.7886, Longitude: -122.4324},
		{Address: "Russian Hill", Latitude: 37.8014, Longitude: -122.4186},
		{Address: "Sunset District", Latitude: 37.7431, Longitude: -122.4660},
		{Address: "Bernal Heights", Latitude: 37.7441, Longitude: -122.4153},
		{Address: "Glen Park", Latitude: 37.7336, Longitude: -122.4339},
		{Address: "Potrero Hill", Latitude: 37.7587, Longitude: -122.4015},
		{Address: "Marina District", Latitude: 37.8006, Longitude: -122.4429},
	}
)

// DriverService handles driver operations.
type DriverService struct {
	driverRepo repository.DriverRepository
	logger     logrus.FieldLogger
	float      func() float64
	now        func() time.Time
}

// NewDriverService creates a new DriverService.
func NewDriverService(driverRepo repository.DriverRepository, logger logrus.FieldLogger) *DriverService {
	return &DriverService{
		driverRepo: driverRepo,
		logger:     logger,
		float:      rand.Float64,
		now:        time.Now,
	}
}

// SeedDriver builds the index-th demo driver. Ids are stable so seeding can be re-run.
func (s *DriverService) SeedDriver(index int) *domain.Driver {
	now := s.now().UTC()
	first := seedFirstNames[index%len(seedFirstNames)]
	last := seedLastNames[(index/len(seedFirstNames))%len(seedLastNames)]
	return &domain.Driver{
		ID:              fmt.Sprintf("driver-%03d", index+1),
		Name:            first + " " + last,
		CurrentLocation: seedLocations[index%len(seedLocations)],
		Status:          domain.DriverStatusAvailable,
		Rating:          math.Round((4.0+s.float())*10) / 10,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Seed inserts count available drivers, skipping ids that already exist.
// Returns the number of drivers created.
func (s *DriverService) Seed(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}

	created := 0
	for i := 0; i < count; i++ {
		driver := s.SeedDriver(i)

		_, err := s.driverRepo.GetByID(ctx, driver.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return created, err
		}

		if err := s.driverRepo.Create(ctx, driver); err != nil {
			return created, fmt.Errorf("create driver %s: %w", driver.ID, err)
		}
		created++
	}

	s.logger.WithFields(logrus.Fields{
		"requested": count,
		"created":   created,
	}).Info("drivers seeded")

	return created, nil
}
