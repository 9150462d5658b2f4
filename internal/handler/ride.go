package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridesaga/internal/domain"
	"ridesaga/internal/service"
)

// Request headers read by the ride endpoints.
const (
	HeaderDeviceID      = "x-device-id"
	HeaderCorrelationID = "x-correlation-id"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService) *RideHandler {
	return &RideHandler{
		rideService: rideService,
	}
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	RiderID             string           `json:"riderId"`
	RiderName           string           `json:"riderName"`
	PickupLocation      *domain.Location `json:"pickupLocation"`
	DestinationLocation *domain.Location `json:"destinationLocation"`
	PaymentMethod       string           `json:"paymentMethod,omitempty"`
}

// RideResponse is the HTTP representation of a ride.
type RideResponse struct {
	RideID              string          `json:"rideId"`
	RiderID             string          `json:"riderId"`
	RiderName           string          `json:"riderName"`
	PickupLocation      domain.Location `json:"pickupLocation"`
	DestinationLocation domain.Location `json:"destinationLocation"`
	Status              string          `json:"status"`
	DriverID            string          `json:"driverId,omitempty"`
	EstimatedPrice      float64         `json:"estimatedPrice,omitempty"`
	FinalPrice          float64         `json:"finalPrice,omitempty"`
	PaymentMethod       string          `json:"paymentMethod"`
	DeviceID            string          `json:"deviceId"`
	CorrelationID       string          `json:"correlationId,omitempty"`
	CreatedAt           string          `json:"createdAt"`
	UpdatedAt           string          `json:"updatedAt"`
}

// CreateRide handles POST /rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		RiderID:             req.RiderID,
		RiderName:           req.RiderName,
		PickupLocation:      req.PickupLocation,
		DestinationLocation: req.DestinationLocation,
		PaymentMethod:       req.PaymentMethod,
		DeviceID:            c.GetHeader(HeaderDeviceID),
		CorrelationID:       c.GetHeader(HeaderCorrelationID),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, newRideResponse(result.Ride))
}

// GetRide handles GET /rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, newRideResponse(ride))
}

func newRideResponse(ride *domain.Ride) RideResponse {
	return RideResponse{
		RideID:              ride.ID,
		RiderID:             ride.RiderID,
		RiderName:           ride.RiderName,
		PickupLocation:      ride.PickupLocation,
		DestinationLocation: ride.DestinationLocation,
		Status:              string(ride.Status),
		DriverID:            ride.DriverID,
		EstimatedPrice:      ride.EstimatedPrice,
		FinalPrice:          ride.FinalPrice,
		PaymentMethod:       ride.PaymentMethod,
		DeviceID:            ride.DeviceID,
		CorrelationID:       ride.CorrelationID,
		CreatedAt:           ride.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           ride.UpdatedAt.Format(time.RFC3339),
	}
}
