package storage

import (
	"context"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// Filter narrows a driver lookup. A nil Near skips the distance
// filter; an empty DriverIDs slice means no id restriction.
type Filter struct {
	DriverIDs []string
	Near      *models.Coord
	RadiusKm  float64
}

// Gateway is the durable store behind dispatch: drivers, vehicles,
// rides and bookings. It is the source of truth once an assignment
// is committed; dispatch state itself is never persisted here.
type Gateway interface {
	// FindAvailableDrivers projects available drivers (with rating
	// and last known location) matching the filter.
	FindAvailableDrivers(ctx context.Context, f Filter) ([]models.DriverCandidate, error)
	// FindVehicles returns vehicles keyed by driver id.
	FindVehicles(ctx context.Context, driverIDs []string) (map[string][]models.Vehicle, error)
	// RideHistory returns acceptance statistics for one driver.
	RideHistory(ctx context.Context, driverID string) (models.RideStats, error)
	CreateRide(ctx context.Context, r *models.Ride) (string, error)
	CreateBooking(ctx context.Context, b *models.Booking) (string, error)
	SetDriverAvailability(ctx context.Context, driverID string, available bool) error
	// MarkRequestOpen records a request entering dispatch so local
	// demand is countable; MarkRequestClosed retires it on any
	// terminal transition.
	MarkRequestOpen(ctx context.Context, requestID string, pickup models.Coord) error
	MarkRequestClosed(ctx context.Context, requestID string) error
	// CountOpenRequests feeds the surge demand signal.
	CountOpenRequests(ctx context.Context, near models.Coord, radiusKm float64) (int, error)
}
