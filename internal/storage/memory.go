package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geocell"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// MemoryGateway is an in-process Gateway for local runs and tests.
type MemoryGateway struct {
	mu       sync.RWMutex
	drivers  map[string]*models.DriverCandidate
	vehicles map[string][]models.Vehicle
	history  map[string]models.RideStats
	rides    map[string]*models.Ride
	bookings map[string]*models.Booking
	open     map[string]models.Coord // open request id -> pickup
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		drivers:  make(map[string]*models.DriverCandidate),
		vehicles: make(map[string][]models.Vehicle),
		history:  make(map[string]models.RideStats),
		rides:    make(map[string]*models.Ride),
		bookings: make(map[string]*models.Booking),
		open:     make(map[string]models.Coord),
	}
}

// PutDriver seeds or replaces a driver record with its vehicles.
func (m *MemoryGateway) PutDriver(d models.DriverCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.drivers[d.DriverID] = &cp
	m.vehicles[d.DriverID] = append([]models.Vehicle(nil), d.Vehicles...)
	m.history[d.DriverID] = d.History
}

func (m *MemoryGateway) FindAvailableDrivers(ctx context.Context, f Filter) ([]models.DriverCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := f.DriverIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(m.drivers))
		for id := range m.drivers {
			ids = append(ids, id)
		}
	}
	out := make([]models.DriverCandidate, 0, len(ids))
	for _, id := range ids {
		d, ok := m.drivers[id]
		if !ok || !d.Available {
			continue
		}
		if f.Near != nil && d.HasLoc {
			dist := geocell.HaversineKm(d.Loc.Lat, d.Loc.Lon, f.Near.Lat, f.Near.Lon)
			if dist > f.RadiusKm {
				continue
			}
		}
		cand := *d
		cand.Vehicles = append([]models.Vehicle(nil), m.vehicles[id]...)
		cand.History = m.history[id]
		out = append(out, cand)
	}
	return out, nil
}

func (m *MemoryGateway) FindVehicles(ctx context.Context, driverIDs []string) (map[string][]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]models.Vehicle, len(driverIDs))
	for _, id := range driverIDs {
		if vs, ok := m.vehicles[id]; ok {
			out[id] = append([]models.Vehicle(nil), vs...)
		}
	}
	return out, nil
}

func (m *MemoryGateway) RideHistory(ctx context.Context, driverID string) (models.RideStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history[driverID], nil
}

func (m *MemoryGateway) CreateRide(ctx context.Context, r *models.Ride) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.rides[r.ID] = &cp
	return r.ID, nil
}

func (m *MemoryGateway) CreateBooking(ctx context.Context, b *models.Booking) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now()
	cp := *b
	m.bookings[b.ID] = &cp
	return b.ID, nil
}

func (m *MemoryGateway) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[driverID]; ok {
		d.Available = available
	}
	return nil
}

// MarkRequestOpen and MarkRequestClosed maintain the demand signal.
func (m *MemoryGateway) MarkRequestOpen(ctx context.Context, requestID string, pickup models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[requestID] = pickup
	return nil
}

func (m *MemoryGateway) MarkRequestClosed(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, requestID)
	return nil
}

func (m *MemoryGateway) CountOpenRequests(ctx context.Context, near models.Coord, radiusKm float64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, pickup := range m.open {
		if geocell.HaversineKm(pickup.Lat, pickup.Lon, near.Lat, near.Lon) <= radiusKm {
			n++
		}
	}
	return n, nil
}

// Ride returns a stored ride, for tests and local inspection.
func (m *MemoryGateway) Ride(id string) (*models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}

// Rides returns the number of stored rides.
func (m *MemoryGateway) Rides() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// Bookings returns the number of stored bookings.
func (m *MemoryGateway) Bookings() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bookings)
}
