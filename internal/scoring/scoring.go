// Package scoring ranks driver candidates for a ride request by a
// weighted multi-factor score. Scoring is a pure function of its
// inputs: no I/O, deterministic, safe to run in parallel.
package scoring

import (
	"math"
	"sort"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/eta"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geocell"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// Weights controls how much each normalized factor contributes to
// the total. The defaults sum to 1.0.
type Weights struct {
	Distance   float64
	Rating     float64
	Acceptance float64
	ETA        float64
	Capacity   float64
}

// Config carries every policy constant the scorer uses. The neutral
// defaults keep new and unrated drivers in the running instead of
// starving them.
type Config struct {
	MaxRadiusKm       float64
	MaxETAMinutes     float64
	AvgSpeedKmh       float64
	NeutralRating     float64 // applied when a driver has no rating
	NeutralAcceptance float64 // applied when a driver has no history
	Weights           Weights
}

func DefaultConfig() Config {
	return Config{
		MaxRadiusKm:       10,
		MaxETAMinutes:     20,
		AvgSpeedKmh:       30,
		NeutralRating:     0.3,
		NeutralAcceptance: 0.5,
		Weights: Weights{
			Distance:   0.35,
			Rating:     0.25,
			Acceptance: 0.15,
			ETA:        0.15,
			Capacity:   0.10,
		},
	}
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = DefaultConfig().MaxRadiusKm
	}
	if cfg.MaxETAMinutes <= 0 {
		cfg.MaxETAMinutes = DefaultConfig().MaxETAMinutes
	}
	if cfg.AvgSpeedKmh <= 0 {
		cfg.AvgSpeedKmh = DefaultConfig().AvgSpeedKmh
	}
	return &Engine{cfg: cfg}
}

// FitsSeats reports whether a vehicle can take the requested seats.
// Capacity must exceed seats_required so the after-driver seat count
// still covers the passengers.
func FitsSeats(v models.Vehicle, seats int) bool {
	return v.Capacity > seats
}

// Score evaluates one candidate for a request. ok is false when the
// candidate is ineligible: not available, no live location, no
// vehicle that fits, or outside the max radius.
func (e *Engine) Score(cand models.DriverCandidate, req models.RideRequest) (models.ScoredCandidate, bool) {
	if !cand.Available || !cand.HasLoc {
		return models.ScoredCandidate{}, false
	}
	vehicle, ok := e.bestVehicle(cand.Vehicles, req.SeatsRequired)
	if !ok {
		return models.ScoredCandidate{}, false
	}
	distKm := geocell.HaversineKm(cand.Loc.Lat, cand.Loc.Lon, req.Pickup.Lat, req.Pickup.Lon)
	if distKm > e.cfg.MaxRadiusKm {
		return models.ScoredCandidate{}, false
	}

	etaMin := eta.EstimateMinutes(cand.Loc, req.Pickup, e.cfg.AvgSpeedKmh)
	f := models.Factors{
		Distance:   e.distanceScore(distKm),
		Rating:     e.ratingScore(cand.Rating),
		Acceptance: e.acceptanceScore(cand.History),
		ETA:        e.etaScore(etaMin),
		Capacity:   capacityScore(vehicle, req.SeatsRequired),
	}
	w := e.cfg.Weights
	total := w.Distance*f.Distance + w.Rating*f.Rating + w.Acceptance*f.Acceptance + w.ETA*f.ETA + w.Capacity*f.Capacity

	return models.ScoredCandidate{
		Candidate:  cand,
		Vehicle:    vehicle,
		DistanceKm: distKm,
		ETAMinutes: etaMin,
		Factors:    f,
		Total:      total,
	}, true
}

// Rank scores every candidate and returns the eligible ones in
// descending score order. Ties break on driver id so the ordering is
// reproducible.
func (e *Engine) Rank(cands []models.DriverCandidate, req models.RideRequest) []models.ScoredCandidate {
	out := make([]models.ScoredCandidate, 0, len(cands))
	for _, c := range cands {
		if sc, ok := e.Score(c, req); ok {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Candidate.DriverID < out[j].Candidate.DriverID
	})
	return out
}

// bestVehicle picks the vehicle with the best capacity fit; among
// equal fits the smaller vehicle wins so big vehicles stay free for
// big requests.
func (e *Engine) bestVehicle(vehicles []models.Vehicle, seats int) (models.Vehicle, bool) {
	var best models.Vehicle
	bestFit := -1.0
	for _, v := range vehicles {
		if !FitsSeats(v, seats) {
			continue
		}
		fit := capacityScore(v, seats)
		if fit > bestFit || (fit == bestFit && v.Capacity < best.Capacity) {
			best, bestFit = v, fit
		}
	}
	return best, bestFit >= 0
}

func (e *Engine) distanceScore(distKm float64) float64 {
	if distKm <= 0 {
		return 1
	}
	if distKm >= e.cfg.MaxRadiusKm {
		return 0
	}
	return 1 - distKm/e.cfg.MaxRadiusKm
}

func (e *Engine) ratingScore(rating float64) float64 {
	if rating <= 0 {
		return e.cfg.NeutralRating
	}
	return math.Min(1, rating/5)
}

// acceptanceScore is a placeholder heuristic over completed vs total
// rides and bookings; it never sees explicit rejections.
func (e *Engine) acceptanceScore(h models.RideStats) float64 {
	total := h.TotalRides + h.TotalBookings
	if total <= 0 {
		return e.cfg.NeutralAcceptance
	}
	done := h.CompletedRides + h.CompletedBookings
	return math.Min(1, float64(done)/float64(total))
}

func (e *Engine) etaScore(etaMin float64) float64 {
	if etaMin >= e.cfg.MaxETAMinutes {
		return 0
	}
	return 1 - etaMin/e.cfg.MaxETAMinutes
}

// capacityScore rewards a tight fit: a full vehicle is a wasted seat
// count for everyone else. The eligibility guard means spare is
// always >= 1 here; the 1-2 band is the best an eligible vehicle can
// score.
func capacityScore(v models.Vehicle, seats int) float64 {
	if v.Capacity <= seats {
		return 0
	}
	spare := v.Capacity - seats
	switch {
	case spare <= 2:
		return 0.9
	case spare <= 4:
		return 0.7
	default:
		return 0.5
	}
}
