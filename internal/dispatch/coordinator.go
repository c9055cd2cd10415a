// Package dispatch owns the lifecycle of active ride requests: it
// builds the ranked candidate list, fans the offer out to every
// candidate in parallel, and arbitrates the race among concurrent
// accept attempts so that exactly one driver wins.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/eta"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/fare"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geo"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/observability"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/scoring"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/storage"
)

// PaymentHolder is the narrow payments surface: hold the estimated
// fare when an assignment commits. Best-effort; a failed hold never
// unwinds an assignment.
type PaymentHolder interface {
	Hold(ctx context.Context, amountMinor int64, currency, customerID string) (string, error)
}

type Config struct {
	TopN           int           // candidates notified per request
	OfferTTL       time.Duration // acceptance window
	SearchRadiusKm float64
	BaseFareMinor  int64 // provisional base fare before surge
	Currency       string
}

func DefaultConfig() Config {
	return Config{
		TopN:           8,
		OfferTTL:       90 * time.Second,
		SearchRadiusKm: 10,
		BaseFareMinor:  5000,
		Currency:       "inr",
	}
}

// requestState is the transient per-request record. It is owned
// exclusively by the Coordinator, guarded by its own mutex, and
// destroyed on every terminal transition. accepted is monotonic:
// false to true, never back.
type requestState struct {
	req      models.RideRequest
	notified []string // insertion order preserved
	members  map[string]models.ScoredCandidate
	timer    *time.Timer

	mu       sync.Mutex
	accepted bool
	closed   bool // expired or cancelled before any win
	winner   string
	declined map[string]struct{}
}

type Coordinator struct {
	cfg      Config
	gw       storage.Gateway
	geoIdx   geo.Index
	engine   *scoring.Engine
	fares    *fare.Estimator
	notifier Notifier
	payments PaymentHolder // optional
	router   eta.Client    // optional
	etaCache *eta.Cache
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*requestState
}

func NewCoordinator(cfg Config, gw storage.Gateway, geoIdx geo.Index, engine *scoring.Engine, fares *fare.Estimator, notifier Notifier, log *slog.Logger) *Coordinator {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultConfig().TopN
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = DefaultConfig().OfferTTL
	}
	if cfg.SearchRadiusKm <= 0 {
		cfg.SearchRadiusKm = DefaultConfig().SearchRadiusKm
	}
	if cfg.BaseFareMinor <= 0 {
		cfg.BaseFareMinor = DefaultConfig().BaseFareMinor
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultConfig().Currency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		gw:       gw,
		geoIdx:   geoIdx,
		engine:   engine,
		fares:    fares,
		notifier: notifier,
		log:      log,
		active:   make(map[string]*requestState),
	}
}

// SetPayments wires the optional payment hold performed on
// assignment.
func (c *Coordinator) SetPayments(p PaymentHolder) { c.payments = p }

// SetRouter wires an optional routing provider used to refine the
// ETA shown on offers. Scoring keeps the avg-speed heuristic either
// way.
func (c *Coordinator) SetRouter(r eta.Client) {
	c.router = r
	c.etaCache = eta.NewCache(time.Minute)
}

func (c *Coordinator) refineETA(from, to models.Coord, fallback float64) float64 {
	if c.router == nil {
		return fallback
	}
	if v, ok := c.etaCache.Get(from, to); ok {
		return v
	}
	secs, err := c.router.EstimateSeconds(from, to)
	if err != nil {
		return fallback
	}
	m := secs / 60
	if m < 1 {
		m = 1
	}
	c.etaCache.Set(from, to, m)
	return m
}

// Dispatch validates a request, builds the ranked candidate list and
// opens the acceptance window. It returns ErrNoCandidates when no
// eligible driver is near the pickup; the passenger is notified and
// no state is retained.
func (c *Coordinator) Dispatch(ctx context.Context, req *models.RideRequest) error {
	if err := validate(req); err != nil {
		return err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	ranked, err := c.buildCandidates(ctx, *req)
	if err != nil {
		return fmt.Errorf("build candidates for %s: %w", req.ID, err)
	}
	if len(ranked) > c.cfg.TopN {
		ranked = ranked[:c.cfg.TopN]
	}
	if len(ranked) == 0 {
		observability.NoCandidatesTotal.Inc()
		c.notifyPassenger(req.PassengerID, models.Event{Kind: models.EventRideExpired, RequestID: req.ID})
		return ErrNoCandidates
	}

	st := &requestState{
		req:      *req,
		notified: make([]string, 0, len(ranked)),
		members:  make(map[string]models.ScoredCandidate, len(ranked)),
		declined: make(map[string]struct{}),
	}
	for _, sc := range ranked {
		st.notified = append(st.notified, sc.Candidate.DriverID)
		st.members[sc.Candidate.DriverID] = sc
	}

	c.mu.Lock()
	if _, dup := c.active[req.ID]; dup {
		c.mu.Unlock()
		return &ValidationError{Field: "request_id", Reason: "already dispatching"}
	}
	c.active[req.ID] = st
	c.mu.Unlock()

	// feed the surge demand signal; losing it degrades pricing, not
	// dispatch
	if err := c.gw.MarkRequestOpen(ctx, req.ID, req.Pickup); err != nil {
		c.log.Warn("open request bookkeeping failed", "request_id", req.ID, "error", err)
	}

	st.timer = time.AfterFunc(c.cfg.OfferTTL, func() { c.expire(req.ID) })

	expiresAt := time.Now().Add(c.cfg.OfferTTL).Format(time.RFC3339)
	fareHint := c.fares.Estimate(ctx, c.cfg.BaseFareMinor, req.Pickup, time.Now())
	// parallel fan-out: every candidate may attempt acceptance
	// concurrently, arbitration below sorts out the race
	for _, sc := range ranked {
		offer := models.RideOffer{
			RequestID:     req.ID,
			Pickup:        req.Pickup,
			Destination:   req.Destination,
			SeatsRequired: req.SeatsRequired,
			DistanceKm:    sc.DistanceKm,
			ETAMinutes:    c.refineETA(sc.Candidate.Loc, req.Pickup, sc.ETAMinutes),
			FareHint:      fareHint.Total,
			ExpiresAt:     expiresAt,
		}
		driverID := sc.Candidate.DriverID
		go func() {
			if err := c.notifier.NotifyDriver(driverID, models.Event{
				Kind:      models.EventRideOffer,
				RequestID: offer.RequestID,
				Payload:   offer,
			}); err != nil && err != ErrNoSession {
				c.log.Warn("offer delivery failed", "request_id", offer.RequestID, "driver_id", driverID, "error", err)
			}
		}()
	}

	observability.DispatchesTotal.Inc()
	observability.ActiveDispatches.Inc()
	c.log.Info("dispatch opened",
		"request_id", req.ID,
		"passenger_id", req.PassengerID,
		"candidates", len(ranked),
		"seats", req.SeatsRequired)
	return nil
}

// Accept arbitrates one driver's accept attempt. The atomic flip of
// the accepted flag happens entirely in memory, before any blocking
// I/O, so a concurrent attempt observes the result immediately.
func (c *Coordinator) Accept(ctx context.Context, requestID, driverID, vehicleID string) (*models.Assignment, error) {
	c.mu.Lock()
	st, ok := c.active[requestID]
	c.mu.Unlock()
	if !ok {
		observability.RaceLossesTotal.Inc()
		return nil, &RaceLossError{RequestID: requestID, DriverID: driverID, Reason: LossResolved}
	}

	st.mu.Lock()
	if st.accepted {
		// includes duplicate accepts from the winner: loss-path no-op
		st.mu.Unlock()
		observability.RaceLossesTotal.Inc()
		return nil, &RaceLossError{RequestID: requestID, DriverID: driverID, Reason: LossTaken}
	}
	if st.closed {
		st.mu.Unlock()
		observability.RaceLossesTotal.Inc()
		return nil, &RaceLossError{RequestID: requestID, DriverID: driverID, Reason: LossResolved}
	}
	sc, member := st.members[driverID]
	if !member {
		st.mu.Unlock()
		return nil, c.classifyOutsider(ctx, st.req, requestID, driverID)
	}
	// capacity re-validation against the vehicle snapshot taken at
	// notify time; the request itself is immutable
	vehicle, ok := chooseVehicle(sc.Candidate.Vehicles, vehicleID, st.req.SeatsRequired)
	if !ok {
		st.mu.Unlock()
		observability.CapacityRejectionsTotal.Inc()
		return nil, &CapacityMismatchError{
			DriverID:      driverID,
			SeatsRequired: st.req.SeatsRequired,
			Capacity:      maxCapacity(sc.Candidate.Vehicles),
		}
	}
	// the core guarantee: a single indivisible test-and-set decides
	// the race, first validated attempt wins
	st.accepted = true
	st.winner = driverID
	st.mu.Unlock()

	return c.commitWin(ctx, st, driverID, vehicle)
}

// commitWin runs after the arbitration flip: persistence, fare,
// notifications. A persistence failure here is fatal-for-request and
// surfaces as a ReconciliationError; it is never retried because a
// retry risks a second driver bound to the same passenger.
func (c *Coordinator) commitWin(ctx context.Context, st *requestState, driverID string, vehicle models.Vehicle) (*models.Assignment, error) {
	req := st.req
	c.teardown(req.ID, st)

	if err := c.gw.SetDriverAvailability(ctx, driverID, false); err != nil {
		return nil, c.reconciliation(req, driverID, "availability", err)
	}

	est := c.fares.Estimate(ctx, c.cfg.BaseFareMinor, req.Pickup, time.Now())
	observability.SurgeMultiplier.Observe(est.Multiplier)

	ride := &models.Ride{
		RequestID:   req.ID,
		PassengerID: req.PassengerID,
		DriverID:    driverID,
		VehicleID:   vehicle.ID,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		Status:      "assigned",
	}
	rideID, err := c.gw.CreateRide(ctx, ride)
	if err != nil {
		return nil, c.reconciliation(req, driverID, "ride", err)
	}

	booking := &models.Booking{
		RideID:     rideID,
		DriverID:   driverID,
		VehicleID:  vehicle.ID,
		Seats:      req.SeatsRequired,
		FareMinor:  est.Total,
		Multiplier: est.Multiplier,
	}
	bookingID, err := c.gw.CreateBooking(ctx, booking)
	if err != nil {
		return nil, c.reconciliation(req, driverID, "booking", err)
	}

	asg := &models.Assignment{
		RequestID:   req.ID,
		RideID:      rideID,
		BookingID:   bookingID,
		DriverID:    driverID,
		VehicleID:   vehicle.ID,
		PassengerID: req.PassengerID,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		Seats:       req.SeatsRequired,
		Fare:        est,
	}

	if c.payments != nil {
		if _, err := c.payments.Hold(ctx, est.Total, c.cfg.Currency, req.PassengerID); err != nil {
			c.log.Warn("payment hold failed", "request_id", req.ID, "error", err)
		}
	}

	c.notifyDriver(driverID, models.Event{Kind: models.EventRideAssigned, RequestID: req.ID, Payload: asg})
	c.notifyPassenger(req.PassengerID, models.Event{Kind: models.EventRideAssigned, RequestID: req.ID, Payload: asg})
	for _, other := range st.notified {
		if other == driverID {
			continue
		}
		c.notifyDriver(other, models.Event{Kind: models.EventRideTaken, RequestID: req.ID})
	}

	observability.AssignmentsTotal.Inc()
	c.log.Info("request assigned",
		"request_id", req.ID,
		"driver_id", driverID,
		"vehicle_id", vehicle.ID,
		"ride_id", rideID,
		"booking_id", bookingID,
		"fare_minor", est.Total,
		"multiplier", est.Multiplier)
	return asg, nil
}

// Reject records a driver's decline. No state transition: the other
// candidates remain eligible, and a decline after resolution is a
// no-op.
func (c *Coordinator) Reject(requestID, driverID string) {
	c.mu.Lock()
	st, ok := c.active[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if !st.accepted && !st.closed {
		if _, member := st.members[driverID]; member {
			st.declined[driverID] = struct{}{}
		}
	}
	st.mu.Unlock()
	c.log.Info("offer declined", "request_id", requestID, "driver_id", driverID)
}

// Cancel resolves an open request on behalf of its passenger.
func (c *Coordinator) Cancel(ctx context.Context, requestID, passengerID string) error {
	c.mu.Lock()
	st, ok := c.active[requestID]
	c.mu.Unlock()
	if !ok {
		return ErrRequestResolved
	}
	if st.req.PassengerID != passengerID {
		return &ValidationError{Field: "passenger_id", Reason: "does not own this request"}
	}

	st.mu.Lock()
	if st.accepted || st.closed {
		st.mu.Unlock()
		return ErrRequestResolved
	}
	st.closed = true // blocks any in-flight accept from winning
	st.mu.Unlock()

	c.teardown(requestID, st)
	for _, driverID := range st.notified {
		c.notifyDriver(driverID, models.Event{Kind: models.EventRideCancelled, RequestID: requestID})
	}
	c.notifyPassenger(passengerID, models.Event{Kind: models.EventRideCancelled, RequestID: requestID})
	observability.CancelledTotal.Inc()
	c.log.Info("request cancelled", "request_id", requestID, "passenger_id", passengerID)
	return nil
}

// ActiveCount reports how many requests are currently open.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// expire fires when the acceptance window closes with no winner.
// Clients are not signalled mid-validation; they simply stop seeing
// the request as open.
func (c *Coordinator) expire(requestID string) {
	c.mu.Lock()
	st, ok := c.active[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if st.accepted || st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.mu.Unlock()

	c.teardown(requestID, st)
	// drivers are not signalled on expiry; the request simply stops
	// being open to them
	c.notifyPassenger(st.req.PassengerID, models.Event{Kind: models.EventRideExpired, RequestID: requestID})
	observability.ExpiredTotal.Inc()
	c.log.Info("request expired with no acceptance", "request_id", requestID, "notified", len(st.notified))
}

// teardown removes the request from the active set and stops its
// expiry timer. Safe to call once per terminal transition.
func (c *Coordinator) teardown(requestID string, st *requestState) {
	c.mu.Lock()
	if _, ok := c.active[requestID]; ok {
		delete(c.active, requestID)
		observability.ActiveDispatches.Dec()
	}
	c.mu.Unlock()
	if st.timer != nil {
		st.timer.Stop()
	}
	if err := c.gw.MarkRequestClosed(context.Background(), requestID); err != nil {
		c.log.Warn("close request bookkeeping failed", "request_id", requestID, "error", err)
	}
}

// buildCandidates projects gateway data over the live locations and
// ranks the result. Read-only and side-effect-free.
func (c *Coordinator) buildCandidates(ctx context.Context, req models.RideRequest) ([]models.ScoredCandidate, error) {
	locs, err := c.geoIdx.Near(ctx, req.Pickup, c.cfg.SearchRadiusKm)
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	if len(locs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(locs))
	liveLoc := make(map[string]models.DriverLocation, len(locs))
	for _, l := range locs {
		ids = append(ids, l.DriverID)
		liveLoc[l.DriverID] = l
	}

	cands, err := c.gw.FindAvailableDrivers(ctx, storage.Filter{DriverIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("driver projection: %w", err)
	}
	vehicles, err := c.gw.FindVehicles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("vehicle projection: %w", err)
	}
	for i := range cands {
		id := cands[i].DriverID
		cands[i].Vehicles = vehicles[id]
		if l, ok := liveLoc[id]; ok {
			// live location wins over the stored one
			cands[i].Loc = l.Loc
			cands[i].HasLoc = true
		}
		if h, err := c.gw.RideHistory(ctx, id); err == nil {
			cands[i].History = h
		}
	}
	return c.engine.Rank(cands, req), nil
}

// classifyOutsider decides what a non-notified driver hears: a
// capacity rejection when no vehicle of theirs could ever fit, a
// plain race loss otherwise.
func (c *Coordinator) classifyOutsider(ctx context.Context, req models.RideRequest, requestID, driverID string) error {
	vehicles, err := c.gw.FindVehicles(ctx, []string{driverID})
	if err == nil {
		if _, fits := chooseVehicle(vehicles[driverID], "", req.SeatsRequired); !fits {
			observability.CapacityRejectionsTotal.Inc()
			return &CapacityMismatchError{
				DriverID:      driverID,
				SeatsRequired: req.SeatsRequired,
				Capacity:      maxCapacity(vehicles[driverID]),
			}
		}
	}
	observability.RaceLossesTotal.Inc()
	return &RaceLossError{RequestID: requestID, DriverID: driverID, Reason: LossNotNotified}
}

func (c *Coordinator) reconciliation(req models.RideRequest, driverID, stage string, err error) error {
	observability.ReconciliationsTotal.Inc()
	rerr := &ReconciliationError{
		RequestID:   req.ID,
		DriverID:    driverID,
		PassengerID: req.PassengerID,
		Stage:       stage,
		Err:         err,
	}
	c.log.Error("assignment persistence failed, manual reconciliation required",
		"request_id", req.ID,
		"driver_id", driverID,
		"passenger_id", req.PassengerID,
		"pickup_lat", req.Pickup.Lat,
		"pickup_lon", req.Pickup.Lon,
		"seats", req.SeatsRequired,
		"stage", stage,
		"error", err)
	return rerr
}

func (c *Coordinator) notifyDriver(id string, ev models.Event) {
	if err := c.notifier.NotifyDriver(id, ev); err != nil && err != ErrNoSession {
		c.log.Warn("driver notify failed", "driver_id", id, "kind", ev.Kind, "error", err)
	}
}

func (c *Coordinator) notifyPassenger(id string, ev models.Event) {
	if err := c.notifier.NotifyPassenger(id, ev); err != nil && err != ErrNoSession {
		c.log.Warn("passenger notify failed", "passenger_id", id, "kind", ev.Kind, "error", err)
	}
}

// chooseVehicle picks the driver's named vehicle, or the best fit
// when none was named. ok is false when nothing fits the seats.
func chooseVehicle(vehicles []models.Vehicle, vehicleID string, seats int) (models.Vehicle, bool) {
	if vehicleID != "" {
		for _, v := range vehicles {
			if v.ID == vehicleID {
				return v, scoring.FitsSeats(v, seats)
			}
		}
		return models.Vehicle{}, false
	}
	var best models.Vehicle
	found := false
	for _, v := range vehicles {
		if !scoring.FitsSeats(v, seats) {
			continue
		}
		if !found || v.Capacity < best.Capacity {
			best, found = v, true
		}
	}
	return best, found
}

func maxCapacity(vehicles []models.Vehicle) int {
	max := 0
	for _, v := range vehicles {
		if v.Capacity > max {
			max = v.Capacity
		}
	}
	return max
}

func validate(req *models.RideRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Reason: "missing"}
	}
	if req.PassengerID == "" {
		return &ValidationError{Field: "passenger_id", Reason: "required"}
	}
	if req.SeatsRequired < 1 {
		return &ValidationError{Field: "seats_required", Reason: "must be at least 1"}
	}
	if req.Pickup.Lat < -90 || req.Pickup.Lat > 90 {
		return &ValidationError{Field: "pickup.lat", Reason: "out of range"}
	}
	if req.Pickup.Lon < -180 || req.Pickup.Lon > 180 {
		return &ValidationError{Field: "pickup.lon", Reason: "out of range"}
	}
	if req.Destination != nil {
		if req.Destination.Lat < -90 || req.Destination.Lat > 90 ||
			req.Destination.Lon < -180 || req.Destination.Lon > 180 {
			return &ValidationError{Field: "destination", Reason: "out of range"}
		}
	}
	return nil
}
