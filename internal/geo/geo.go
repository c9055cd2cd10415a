// Package geo tracks live driver locations and answers proximity
// queries for candidate search.
package geo

import (
	"context"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// Index is the minimal surface dispatch needs from a location store.
type Index interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	// Near returns driver locations within radiusKm of the center.
	Near(ctx context.Context, center models.Coord, radiusKm float64) ([]models.DriverLocation, error)
	// CountNear feeds the surge supply signal.
	CountNear(ctx context.Context, center models.Coord, radiusKm float64) (int, error)
}
