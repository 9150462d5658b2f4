package service

import "errors"

var (
	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = errors.New("riderId is required")

	// ErrInvalidRiderName is returned when rider name is empty.
	ErrInvalidRiderName = errors.New("riderName is required")

	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = errors.New("rideId is required")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("driverId is required")

	// ErrInvalidPaymentID is returned when payment ID is empty.
	ErrInvalidPaymentID = errors.New("paymentId is required")

	// ErrInvalidDeviceID is returned when the device header is missing.
	ErrInvalidDeviceID = errors.New("x-device-id header is required")

	// ErrInvalidPickupLocation is returned when pickup location is missing or out of range.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDestinationLocation is returned when destination location is missing or out of range.
	ErrInvalidDestinationLocation = errors.New("invalid destination location")

	// ErrInvalidPaymentAmount is returned when payment amount is invalid.
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")

	// ErrInvalidMultiplier is returned when the secrets provider yields a non-positive multiplier.
	ErrInvalidMultiplier = errors.New("invalid rush hour multiplier")

	// ErrMatchInProgress is returned when another invocation holds the ride's matching lock.
	ErrMatchInProgress = errors.New("ride matching already in progress")

	// ErrPaymentInProgress is returned when another invocation owns the payment fingerprint.
	ErrPaymentInProgress = errors.New("payment already in progress")

	// ErrPoisonRecord is returned for change records carrying the poison marker.
	ErrPoisonRecord = errors.New("poison record")

	// ErrInsufficientTime is returned when the invocation deadline is too close to process a record.
	ErrInsufficientTime = errors.New("insufficient time remaining")
)

var validationErrors = []error{
	ErrInvalidRiderID,
	ErrInvalidRiderName,
	ErrInvalidRideID,
	ErrInvalidDriverID,
	ErrInvalidPaymentID,
	ErrInvalidDeviceID,
	ErrInvalidPickupLocation,
	ErrInvalidDestinationLocation,
	ErrInvalidPaymentAmount,
}

// IsValidation reports whether err is an input validation failure. Retrying cannot fix it.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
