package geo

import (
	"context"
	"sync"
	"time"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geocell"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// CellIndex is an in-memory Index bucketing drivers by geocell so a
// proximity query touches only the center cell and its neighbors,
// never the whole driver set. Boundary effects near cell edges are
// handled by always querying the 9-cell cover and post-filtering
// with the exact distance.
type CellIndex struct {
	precision int

	mu      sync.RWMutex
	cells   map[string]map[string]struct{} // cell -> driver ids
	drivers map[string]driverEntry
}

type driverEntry struct {
	loc  models.DriverLocation
	cell string
}

// NewCellIndex builds an index at the given bucket precision;
// precision <= 0 uses the default pickup precision.
func NewCellIndex(precision int) *CellIndex {
	if precision <= 0 {
		precision = geocell.DefaultPickupPrecision
	}
	return &CellIndex{
		precision: precision,
		cells:     make(map[string]map[string]struct{}),
		drivers:   make(map[string]driverEntry),
	}
}

func (x *CellIndex) Upsert(ctx context.Context, loc models.DriverLocation) error {
	cell, err := geocell.Encode(loc.Loc.Lat, loc.Loc.Lon, x.precision)
	if err != nil {
		return err
	}
	if loc.Updated.IsZero() {
		loc.Updated = time.Now()
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if prev, ok := x.drivers[loc.DriverID]; ok && prev.cell != cell {
		delete(x.cells[prev.cell], loc.DriverID)
		if len(x.cells[prev.cell]) == 0 {
			delete(x.cells, prev.cell)
		}
	}
	if x.cells[cell] == nil {
		x.cells[cell] = make(map[string]struct{})
	}
	x.cells[cell][loc.DriverID] = struct{}{}
	x.drivers[loc.DriverID] = driverEntry{loc: loc, cell: cell}
	return nil
}

// Remove drops a driver from the index, e.g. when it goes offline.
func (x *CellIndex) Remove(driverID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if prev, ok := x.drivers[driverID]; ok {
		delete(x.cells[prev.cell], driverID)
		if len(x.cells[prev.cell]) == 0 {
			delete(x.cells, prev.cell)
		}
		delete(x.drivers, driverID)
	}
}

func (x *CellIndex) Near(ctx context.Context, center models.Coord, radiusKm float64) ([]models.DriverLocation, error) {
	// search cells at a coarseness matching the radius, then walk
	// the stored buckets that share those prefixes
	searchPrec := geocell.PrecisionForRadius(radiusKm)
	if searchPrec > x.precision {
		searchPrec = x.precision
	}
	cover, err := geocell.Cover(center.Lat, center.Lon, radiusKm, searchPrec)
	if err != nil {
		return nil, err
	}
	prefixes := make(map[string]struct{}, len(cover))
	for _, c := range cover {
		prefixes[c] = struct{}{}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []models.DriverLocation
	for cell, ids := range x.cells {
		if _, ok := prefixes[cell[:searchPrec]]; !ok {
			continue
		}
		for id := range ids {
			e := x.drivers[id]
			d := geocell.HaversineKm(e.loc.Loc.Lat, e.loc.Loc.Lon, center.Lat, center.Lon)
			if d <= radiusKm {
				out = append(out, e.loc)
			}
		}
	}
	return out, nil
}

func (x *CellIndex) CountNear(ctx context.Context, center models.Coord, radiusKm float64) (int, error) {
	locs, err := x.Near(ctx, center, radiusKm)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range locs {
		if l.Available {
			n++
		}
	}
	return n, nil
}
