package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RideRequest is immutable once created; it lives only for the
// duration of dispatch.
type RideRequest struct {
	ID              string    `json:"request_id"`
	PassengerID     string    `json:"passenger_id"`
	Pickup          Coord     `json:"pickup"`
	Destination     *Coord    `json:"destination,omitempty"`
	DestinationAddr string    `json:"destination_addr,omitempty"`
	SeatsRequired   int       `json:"seats_required"`
	CreatedAt       time.Time `json:"created_at"`
}

type Vehicle struct {
	ID       string `json:"id"`
	DriverID string `json:"driver_id"`
	Make     string `json:"make,omitempty"`
	Model    string `json:"model,omitempty"`
	Plate    string `json:"plate,omitempty"`
	Capacity int    `json:"capacity"`
}

// RideStats feeds the acceptance-rate heuristic. The ride/booking
// split mirrors how history is recorded in the backing store.
type RideStats struct {
	CompletedRides    int `json:"completed_rides"`
	TotalRides        int `json:"total_rides"`
	CompletedBookings int `json:"completed_bookings"`
	TotalBookings     int `json:"total_bookings"`
}

// DriverCandidate is a read-only projection over gateway data at
// dispatch time; it is never stored.
type DriverCandidate struct {
	DriverID  string    `json:"driver_id"`
	Loc       Coord     `json:"loc"`
	HasLoc    bool      `json:"has_loc"`
	Rating    float64   `json:"rating"` // 0 means unrated
	Available bool      `json:"available"`
	Vehicles  []Vehicle `json:"vehicles"`
	History   RideStats `json:"history"`
}

// Factors holds the per-factor normalized scores, each in [0,1].
type Factors struct {
	Distance   float64 `json:"distance"`
	Rating     float64 `json:"rating"`
	Acceptance float64 `json:"acceptance"`
	ETA        float64 `json:"eta"`
	Capacity   float64 `json:"capacity"`
}

type ScoredCandidate struct {
	Candidate  DriverCandidate `json:"candidate"`
	Vehicle    Vehicle         `json:"vehicle"` // best capacity fit
	DistanceKm float64         `json:"distance_km"`
	ETAMinutes float64         `json:"eta_minutes"`
	Factors    Factors         `json:"factors"`
	Total      float64         `json:"total"`
}

// FareEstimate amounts are in currency minor units (paise, cents).
type FareEstimate struct {
	Base       int64   `json:"base"`
	Multiplier float64 `json:"multiplier"`
	Total      int64   `json:"total"`
}

// Assignment is created exactly once per request that resolves
// successfully.
type Assignment struct {
	RequestID   string       `json:"request_id"`
	RideID      string       `json:"ride_id"`
	BookingID   string       `json:"booking_id"`
	DriverID    string       `json:"driver_id"`
	VehicleID   string       `json:"vehicle_id"`
	PassengerID string       `json:"passenger_id"`
	Pickup      Coord        `json:"pickup"`
	Destination *Coord       `json:"destination,omitempty"`
	Seats       int          `json:"seats"`
	Fare        FareEstimate `json:"fare"`
}

type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Loc       Coord     `json:"loc"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"updated"`
}

// Event kinds pushed over the real-time transport.
const (
	EventRideOffer     = "ride_offer"
	EventRideTaken     = "ride_taken"
	EventRideAssigned  = "ride_assigned"
	EventRideExpired   = "ride_expired"
	EventRideCancelled = "ride_cancelled"
	EventAcceptDenied  = "accept_denied"
)

// Event is the envelope sent to driver and passenger sessions.
type Event struct {
	Kind      string      `json:"kind"`
	RequestID string      `json:"request_id"`
	Payload   interface{} `json:"payload,omitempty"`
}

// RideOffer is the payload drivers receive during fan-out.
type RideOffer struct {
	RequestID     string  `json:"request_id"`
	Pickup        Coord   `json:"pickup"`
	Destination   *Coord  `json:"destination,omitempty"`
	SeatsRequired int     `json:"seats_required"`
	DistanceKm    float64 `json:"distance_km"`
	ETAMinutes    float64 `json:"eta_minutes"`
	FareHint      int64   `json:"fare_hint,omitempty"`
	ExpiresAt     string  `json:"expires_at"`
}

// Ride and Booking are the durable records materialized on a win.
type Ride struct {
	ID          string
	RequestID   string
	PassengerID string
	DriverID    string
	VehicleID   string
	Pickup      Coord
	Destination *Coord
	Status      string // assigned, ongoing, completed, cancelled
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Booking struct {
	ID         string
	RideID     string
	DriverID   string
	VehicleID  string
	Seats      int
	FareMinor  int64
	Multiplier float64
	CreatedAt  time.Time
}
