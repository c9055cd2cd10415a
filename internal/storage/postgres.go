package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geocell"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// PostgresGateway implements Gateway over database/sql + lib/pq.
type PostgresGateway struct {
	db *sql.DB
}

func NewPostgresGateway(dsn string) (*PostgresGateway, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresGateway{db: db}, nil
}

func (p *PostgresGateway) Close() error { return p.db.Close() }

func (p *PostgresGateway) FindAvailableDrivers(ctx context.Context, f Filter) ([]models.DriverCandidate, error) {
	q := `SELECT id, rating, available, lat, lon FROM drivers WHERE available = true`
	args := []interface{}{}
	if len(f.DriverIDs) > 0 {
		q += ` AND id = ANY($1)`
		args = append(args, pq.Array(f.DriverIDs))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find available drivers: %w", err)
	}
	defer rows.Close()

	var out []models.DriverCandidate
	for rows.Next() {
		var d models.DriverCandidate
		var rating sql.NullFloat64
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&d.DriverID, &rating, &d.Available, &lat, &lon); err != nil {
			return nil, err
		}
		d.Rating = rating.Float64
		if lat.Valid && lon.Valid {
			d.Loc = models.Coord{Lat: lat.Float64, Lon: lon.Float64}
			d.HasLoc = true
		}
		if f.Near != nil {
			if !d.HasLoc {
				continue
			}
			if geocell.HaversineKm(d.Loc.Lat, d.Loc.Lon, f.Near.Lat, f.Near.Lon) > f.RadiusKm {
				continue
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresGateway) FindVehicles(ctx context.Context, driverIDs []string) (map[string][]models.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, driver_id, make, model, plate, capacity FROM vehicles WHERE driver_id = ANY($1)`,
		pq.Array(driverIDs))
	if err != nil {
		return nil, fmt.Errorf("find vehicles: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Vehicle)
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.DriverID, &v.Make, &v.Model, &v.Plate, &v.Capacity); err != nil {
			return nil, err
		}
		out[v.DriverID] = append(out[v.DriverID], v)
	}
	return out, rows.Err()
}

func (p *PostgresGateway) RideHistory(ctx context.Context, driverID string) (models.RideStats, error) {
	var s models.RideStats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM rides WHERE driver_id = $1 AND status = 'completed'),
			(SELECT COUNT(*) FROM rides WHERE driver_id = $1),
			(SELECT COUNT(*) FROM bookings b JOIN rides r ON b.ride_id = r.id
				WHERE b.driver_id = $1 AND r.status = 'completed'),
			(SELECT COUNT(*) FROM bookings WHERE driver_id = $1)`,
		driverID).Scan(&s.CompletedRides, &s.TotalRides, &s.CompletedBookings, &s.TotalBookings)
	if err != nil {
		return models.RideStats{}, fmt.Errorf("ride history: %w", err)
	}
	return s, nil
}

func (p *PostgresGateway) CreateRide(ctx context.Context, r *models.Ride) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	var destLat, destLon sql.NullFloat64
	if r.Destination != nil {
		destLat = sql.NullFloat64{Float64: r.Destination.Lat, Valid: true}
		destLon = sql.NullFloat64{Float64: r.Destination.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides(id, request_id, passenger_id, driver_id, vehicle_id,
			pickup_lat, pickup_lon, dest_lat, dest_lon, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RequestID, r.PassengerID, r.DriverID, r.VehicleID,
		r.Pickup.Lat, r.Pickup.Lon, destLat, destLon, r.Status, now, now)
	if err != nil {
		return "", fmt.Errorf("create ride: %w", err)
	}
	return r.ID, nil
}

func (p *PostgresGateway) CreateBooking(ctx context.Context, b *models.Booking) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings(id, ride_id, driver_id, vehicle_id, seats, fare_minor, multiplier, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		b.ID, b.RideID, b.DriverID, b.VehicleID, b.Seats, b.FareMinor, b.Multiplier, time.Now())
	if err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	return b.ID, nil
}

func (p *PostgresGateway) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET available = $1, updated_at = $2 WHERE id = $3`,
		available, time.Now(), driverID)
	if err != nil {
		return fmt.Errorf("set driver availability: %w", err)
	}
	return nil
}

func (p *PostgresGateway) MarkRequestOpen(ctx context.Context, requestID string, pickup models.Coord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispatch_requests(request_id, pickup_lat, pickup_lon, created_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (request_id) DO NOTHING`,
		requestID, pickup.Lat, pickup.Lon, time.Now())
	if err != nil {
		return fmt.Errorf("mark request open: %w", err)
	}
	return nil
}

func (p *PostgresGateway) MarkRequestClosed(ctx context.Context, requestID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM dispatch_requests WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("mark request closed: %w", err)
	}
	return nil
}

// CountOpenRequests counts open dispatch requests near a point using
// a bounding-box approximation; the demand signal only needs a
// coarse count.
func (p *PostgresGateway) CountOpenRequests(ctx context.Context, near models.Coord, radiusKm float64) (int, error) {
	degLat := radiusKm / 111.32
	degLon := degLat * 2 // generous box, shrinks false negatives
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dispatch_requests
		WHERE pickup_lat BETWEEN $1 AND $2
		  AND pickup_lon BETWEEN $3 AND $4`,
		near.Lat-degLat, near.Lat+degLat, near.Lon-degLon, near.Lon+degLon).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open requests: %w", err)
	}
	return n, nil
}
