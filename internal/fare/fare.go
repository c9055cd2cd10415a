// Package fare computes provisional fares with surge pricing.
//
// Two signal sources feed the multiplier: a live demand/supply ratio
// around the pickup and static zone tables with time windows. The
// demand/supply signal (scaled by time of day) is authoritative;
// zone multipliers act as a floor during their active windows. The
// resolved multiplier is clamped to [1.0, Cap]. A missing signal
// contributes 1.0 and never fails the request.
package fare

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geocell"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// ErrSignalUnavailable marks a surge signal that could not be read.
// The estimator degrades to multiplier 1.0 when it sees this.
var ErrSignalUnavailable = errors.New("fare: surge signal unavailable")

// SupplyDemand reports concurrent open requests and available
// drivers near a point.
type SupplyDemand interface {
	Counts(ctx context.Context, at models.Coord, radiusKm float64) (openRequests, availableDrivers int, err error)
}

// Window is a daily time window in minutes since midnight. End < Start
// wraps past midnight.
type Window struct {
	StartMin   int
	EndMin     int
	Multiplier float64
}

func (w Window) active(at time.Time) bool {
	m := at.Hour()*60 + at.Minute()
	if w.StartMin <= w.EndMin {
		return m >= w.StartMin && m < w.EndMin
	}
	return m >= w.StartMin || m < w.EndMin
}

// Zone is a circular surge zone with time-windowed multipliers.
type Zone struct {
	Name     string
	Center   models.Coord
	RadiusKm float64
	Windows  []Window
}

// Config carries the surge policy knobs.
type Config struct {
	Cap            float64 // absolute multiplier ceiling
	SupplyRadiusKm float64 // area for the demand/supply counts

	// demand/supply tiers, checked highest first
	HighRatio float64 // ratio at or above -> HighMult
	MedRatio  float64
	LowRatio  float64
	HighMult  float64
	MedMult   float64
	LowMult   float64

	// time-of-day adjustments
	PeakWindows []Window

	Zones []Zone
}

func DefaultConfig() Config {
	return Config{
		Cap:            3.0,
		SupplyRadiusKm: 5.0,
		HighRatio:      2.0,
		MedRatio:       1.5,
		LowRatio:       1.2,
		HighMult:       2.0,
		MedMult:        1.5,
		LowMult:        1.25,
		PeakWindows: []Window{
			{StartMin: 8 * 60, EndMin: 10 * 60, Multiplier: 1.2},  // morning peak
			{StartMin: 17 * 60, EndMin: 20 * 60, Multiplier: 1.2}, // evening peak
			{StartMin: 23 * 60, EndMin: 5 * 60, Multiplier: 1.3},  // late night
		},
	}
}

type Estimator struct {
	cfg    Config
	supply SupplyDemand // nil means the signal is unavailable
	log    *slog.Logger
}

func NewEstimator(cfg Config, supply SupplyDemand, log *slog.Logger) *Estimator {
	if cfg.Cap < 1 {
		cfg.Cap = DefaultConfig().Cap
	}
	if cfg.SupplyRadiusKm <= 0 {
		cfg.SupplyRadiusKm = DefaultConfig().SupplyRadiusKm
	}
	if log == nil {
		log = slog.Default()
	}
	return &Estimator{cfg: cfg, supply: supply, log: log}
}

// Estimate resolves the surge multiplier for a pickup at a point in
// time and applies it to the base fare. baseMinor is in currency
// minor units; the total is rounded to the same precision.
func (e *Estimator) Estimate(ctx context.Context, baseMinor int64, pickup models.Coord, at time.Time) models.FareEstimate {
	demand := e.demandMultiplier(ctx, pickup) * e.timeOfDayMultiplier(at)
	zone := e.zoneMultiplier(pickup, at)

	mult := math.Max(demand, zone)
	if mult > e.cfg.Cap {
		mult = e.cfg.Cap
	}
	if mult < 1 {
		mult = 1
	}

	return models.FareEstimate{
		Base:       baseMinor,
		Multiplier: mult,
		Total:      int64(math.Round(float64(baseMinor) * mult)),
	}
}

func (e *Estimator) demandMultiplier(ctx context.Context, pickup models.Coord) float64 {
	if e.supply == nil {
		return 1.0
	}
	open, drivers, err := e.supply.Counts(ctx, pickup, e.cfg.SupplyRadiusKm)
	if err != nil {
		e.log.Warn("surge signal unavailable, using neutral multiplier", "error", err)
		return 1.0
	}
	if drivers == 0 {
		if open > 0 {
			return e.cfg.HighMult
		}
		return 1.0
	}
	ratio := float64(open) / float64(drivers)
	switch {
	case ratio >= e.cfg.HighRatio:
		return e.cfg.HighMult
	case ratio >= e.cfg.MedRatio:
		return e.cfg.MedMult
	case ratio >= e.cfg.LowRatio:
		return e.cfg.LowMult
	default:
		return 1.0
	}
}

func (e *Estimator) timeOfDayMultiplier(at time.Time) float64 {
	mult := 1.0
	for _, w := range e.cfg.PeakWindows {
		if w.active(at) && w.Multiplier > mult {
			mult = w.Multiplier
		}
	}
	return mult
}

// zoneMultiplier returns the maximum multiplier among zones whose
// circle contains the pickup during an active window.
func (e *Estimator) zoneMultiplier(pickup models.Coord, at time.Time) float64 {
	mult := 1.0
	for _, z := range e.cfg.Zones {
		d := geocell.HaversineKm(pickup.Lat, pickup.Lon, z.Center.Lat, z.Center.Lon)
		if d > z.RadiusKm {
			continue
		}
		for _, w := range z.Windows {
			if w.active(at) && w.Multiplier > mult {
				mult = w.Multiplier
			}
		}
	}
	return mult
}
