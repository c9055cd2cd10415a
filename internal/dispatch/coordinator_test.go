package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/fare"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geo"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/scoring"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/storage"
)

type recordingNotifier struct {
	mu         sync.Mutex
	drivers    map[string][]models.Event
	passengers map[string][]models.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		drivers:    make(map[string][]models.Event),
		passengers: make(map[string][]models.Event),
	}
}

func (n *recordingNotifier) NotifyDriver(id string, ev models.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drivers[id] = append(n.drivers[id], ev)
	return nil
}

func (n *recordingNotifier) NotifyPassenger(id string, ev models.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.passengers[id] = append(n.passengers[id], ev)
	return nil
}

func (n *recordingNotifier) driverEvents(id string) []models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Event(nil), n.drivers[id]...)
}

func (n *recordingNotifier) passengerEvents(id string) []models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Event(nil), n.passengers[id]...)
}

type harness struct {
	coord    *Coordinator
	gw       *storage.MemoryGateway
	idx      *geo.CellIndex
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	gw := storage.NewMemoryGateway()
	idx := geo.NewCellIndex(0)
	notifier := newRecordingNotifier()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := scoring.NewEngine(scoring.DefaultConfig())
	fares := fare.NewEstimator(fare.DefaultConfig(), nil, log)
	return &harness{
		coord:    NewCoordinator(cfg, gw, idx, engine, fares, notifier, log),
		gw:       gw,
		idx:      idx,
		notifier: notifier,
	}
}

func (h *harness) seedDriver(t *testing.T, id string, lat, lon float64, rating float64, capacities ...int) {
	t.Helper()
	vehicles := make([]models.Vehicle, 0, len(capacities))
	for i, cap := range capacities {
		vehicles = append(vehicles, models.Vehicle{
			ID: fmt.Sprintf("%s-v%d", id, i), DriverID: id, Capacity: cap,
		})
	}
	h.gw.PutDriver(models.DriverCandidate{
		DriverID:  id,
		Loc:       models.Coord{Lat: lat, Lon: lon},
		HasLoc:    true,
		Rating:    rating,
		Available: true,
		Vehicles:  vehicles,
	})
	if err := h.idx.Upsert(context.Background(), models.DriverLocation{
		DriverID: id, Loc: models.Coord{Lat: lat, Lon: lon}, Available: true,
	}); err != nil {
		t.Fatal(err)
	}
}

func newRequest(seats int) *models.RideRequest {
	return &models.RideRequest{
		PassengerID:   "pass1",
		Pickup:        models.Coord{Lat: 12.90, Lon: 77.60},
		SeatsRequired: seats,
	}
}

func TestSingleWinnerUnderConcurrentAccepts(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	const n = 6
	drivers := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("d%d", i)
		drivers[i] = id
		h.seedDriver(t, id, 12.90+float64(i)*0.001, 77.60, 4.5, 4)
	}
	req := newRequest(2)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan *models.Assignment, n)
	losses := make(chan error, n)
	for _, id := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			asg, err := h.coord.Accept(context.Background(), req.ID, driverID, "")
			if err != nil {
				losses <- err
				return
			}
			wins <- asg
		}(id)
	}
	wg.Wait()
	close(wins)
	close(losses)

	var assignments []*models.Assignment
	for a := range wins {
		assignments = append(assignments, a)
	}
	if len(assignments) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(assignments))
	}
	lost := 0
	for err := range losses {
		var rl *RaceLossError
		var cm *CapacityMismatchError
		if !errors.As(err, &rl) && !errors.As(err, &cm) {
			t.Fatalf("loser got unexpected error type: %v", err)
		}
		lost++
	}
	if lost != n-1 {
		t.Fatalf("expected %d losses, got %d", n-1, lost)
	}
	if h.gw.Rides() != 1 || h.gw.Bookings() != 1 {
		t.Fatalf("expected exactly one ride and booking, got %d/%d", h.gw.Rides(), h.gw.Bookings())
	}
	if h.coord.ActiveCount() != 0 {
		t.Fatalf("dispatch state leaked: %d entries", h.coord.ActiveCount())
	}
}

func TestDuplicateAcceptFromWinnerIsNoOp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seedDriver(t, "d1", 12.901, 77.601, 4.8, 4)
	req := newRequest(1)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := h.coord.Accept(context.Background(), req.ID, "d1", ""); err != nil {
		t.Fatalf("first accept should win: %v", err)
	}
	_, err := h.coord.Accept(context.Background(), req.ID, "d1", "")
	var rl *RaceLossError
	if !errors.As(err, &rl) {
		t.Fatalf("replayed accept must be a loss-path no-op, got %v", err)
	}
	if h.gw.Rides() != 1 {
		t.Fatalf("replay must not create a second ride, got %d", h.gw.Rides())
	}
}

func TestCapacityExcludedDriverNeverNotified(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seedDriver(t, "small", 12.901, 77.601, 5.0, 4) // capacity == seats: excluded
	h.seedDriver(t, "big", 12.902, 77.602, 4.0, 6)
	req := newRequest(4)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	for _, ev := range h.notifier.driverEvents("small") {
		if ev.Kind == models.EventRideOffer {
			t.Fatal("capacity-excluded driver must not receive an offer")
		}
	}
	_, err := h.coord.Accept(context.Background(), req.ID, "small", "")
	var cm *CapacityMismatchError
	if !errors.As(err, &cm) {
		t.Fatalf("direct accept from excluded driver must fail with capacity mismatch, got %v", err)
	}
	if cm.SeatsRequired != 4 {
		t.Fatalf("error should carry seats required, got %+v", cm)
	}
}

func TestCapacityRevalidationAllowsRetry(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seedDriver(t, "d1", 12.901, 77.601, 4.5, 2, 6) // hatchback and van
	req := newRequest(3)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	// naming the too-small vehicle fails without consuming the request
	_, err := h.coord.Accept(context.Background(), req.ID, "d1", "d1-v0")
	var cm *CapacityMismatchError
	if !errors.As(err, &cm) {
		t.Fatalf("expected capacity mismatch, got %v", err)
	}
	if h.coord.ActiveCount() != 1 {
		t.Fatal("capacity rejection must not resolve the request")
	}
	// retry with the van wins
	asg, err := h.coord.Accept(context.Background(), req.ID, "d1", "d1-v1")
	if err != nil {
		t.Fatalf("retry with fitting vehicle should win: %v", err)
	}
	if asg.VehicleID != "d1-v1" {
		t.Fatalf("expected van, got %s", asg.VehicleID)
	}
}

func TestAcceptOnUnknownRequestIsRaceLoss(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := h.coord.Accept(context.Background(), "nope", "d1", "")
	var rl *RaceLossError
	if !errors.As(err, &rl) || rl.Reason != LossResolved {
		t.Fatalf("expected resolved race loss, got %v", err)
	}
}

func TestNoCandidatesLeavesNoState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	req := newRequest(2)
	err := h.coord.Dispatch(context.Background(), req)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if h.coord.ActiveCount() != 0 {
		t.Fatal("no-candidate dispatch must not leave state behind")
	}
	evs := h.notifier.passengerEvents("pass1")
	if len(evs) != 1 || evs[0].Kind != models.EventRideExpired {
		t.Fatalf("passenger should hear expired, got %v", evs)
	}
}

func TestExpiryResolvesAndNotifies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OfferTTL = 30 * time.Millisecond
	h := newHarness(t, cfg)
	h.seedDriver(t, "d1", 12.901, 77.601, 4.5, 4)
	req := newRequest(1)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.coord.ActiveCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.coord.ActiveCount() != 0 {
		t.Fatal("request did not expire")
	}
	_, err := h.coord.Accept(context.Background(), req.ID, "d1", "")
	var rl *RaceLossError
	if !errors.As(err, &rl) {
		t.Fatalf("accept after expiry must be a race loss, got %v", err)
	}
	found := false
	for _, ev := range h.notifier.passengerEvents("pass1") {
		if ev.Kind == models.EventRideExpired {
			found = true
		}
	}
	if !found {
		t.Fatal("passenger was not told the request expired")
	}
	for _, ev := range h.notifier.driverEvents("d1") {
		if ev.Kind == models.EventRideExpired {
			t.Fatal("drivers must not be signalled on expiry")
		}
	}
}

func TestCancelByPassenger(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seedDriver(t, "d1", 12.901, 77.601, 4.5, 4)
	req := newRequest(1)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if err := h.coord.Cancel(context.Background(), req.ID, "someone-else"); err == nil {
		t.Fatal("cancel by a stranger must fail")
	}
	if err := h.coord.Cancel(context.Background(), req.ID, "pass1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.coord.ActiveCount() != 0 {
		t.Fatal("cancel must tear down state")
	}
	_, err := h.coord.Accept(context.Background(), req.ID, "d1", "")
	var rl *RaceLossError
	if !errors.As(err, &rl) {
		t.Fatalf("accept after cancel must be a race loss, got %v", err)
	}
}

func TestRejectKeepsOthersEligible(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seedDriver(t, "d1", 12.901, 77.601, 4.5, 4)
	h.seedDriver(t, "d2", 12.902, 77.602, 4.5, 4)
	req := newRequest(1)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	h.coord.Reject(req.ID, "d1")
	if h.coord.ActiveCount() != 1 {
		t.Fatal("a decline must not resolve the request")
	}
	if _, err := h.coord.Accept(context.Background(), req.ID, "d2", ""); err != nil {
		t.Fatalf("other candidate should still win: %v", err)
	}
}

type failingGateway struct {
	*storage.MemoryGateway
	failRide bool
}

func (f *failingGateway) CreateRide(ctx context.Context, r *models.Ride) (string, error) {
	if f.failRide {
		return "", errors.New("connection refused")
	}
	return f.MemoryGateway.CreateRide(ctx, r)
}

func TestPersistenceFailureSurfacesReconciliation(t *testing.T) {
	gw := &failingGateway{MemoryGateway: storage.NewMemoryGateway(), failRide: true}
	idx := geo.NewCellIndex(0)
	notifier := newRecordingNotifier()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := NewCoordinator(DefaultConfig(), gw, idx,
		scoring.NewEngine(scoring.DefaultConfig()),
		fare.NewEstimator(fare.DefaultConfig(), nil, log),
		notifier, log)

	gw.PutDriver(models.DriverCandidate{
		DriverID: "d1", Loc: models.Coord{Lat: 12.901, Lon: 77.601}, HasLoc: true,
		Rating: 4.5, Available: true,
		Vehicles: []models.Vehicle{{ID: "v1", DriverID: "d1", Capacity: 4}},
	})
	_ = idx.Upsert(context.Background(), models.DriverLocation{
		DriverID: "d1", Loc: models.Coord{Lat: 12.901, Lon: 77.601}, Available: true,
	})

	req := newRequest(1)
	if err := coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	_, err := coord.Accept(context.Background(), req.ID, "d1", "")
	var rec *ReconciliationError
	if !errors.As(err, &rec) {
		t.Fatalf("persistence failure after a win must surface as reconciliation, got %v", err)
	}
	if rec.RequestID != req.ID || rec.DriverID != "d1" || rec.Stage != "ride" {
		t.Fatalf("reconciliation context incomplete: %+v", rec)
	}
}

func TestScenarioNearbyDriverWinsRanking(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	// A: 1 km away, rating 4.8, capacity 4 (1 spare for 3 seats)
	h.seedDriver(t, "A", 12.90+1.0/111.0, 77.60, 4.8, 4)
	// B: 8 km away, rating 5.0, capacity 6
	h.seedDriver(t, "B", 12.90+8.0/111.0, 77.60, 5.0, 6)
	req := newRequest(3)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make(map[string]error, 2)
	var mu sync.Mutex
	for _, id := range []string{"A", "B"} {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			_, err := h.coord.Accept(context.Background(), req.ID, driverID, "")
			mu.Lock()
			results[driverID] = err
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	winners := 0
	for id, err := range results {
		if err == nil {
			winners++
			continue
		}
		var rl *RaceLossError
		if !errors.As(err, &rl) {
			t.Fatalf("loser %s got unexpected error %v", id, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if h.gw.Rides() != 1 || h.gw.Bookings() != 1 {
		t.Fatalf("expected one ride/booking pair, got %d/%d", h.gw.Rides(), h.gw.Bookings())
	}
}

func TestValidationRejectsBadRequests(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	cases := []*models.RideRequest{
		{PassengerID: "p", Pickup: models.Coord{Lat: 12.9, Lon: 77.6}, SeatsRequired: 0},
		{PassengerID: "p", Pickup: models.Coord{Lat: 99, Lon: 77.6}, SeatsRequired: 1},
		{PassengerID: "p", Pickup: models.Coord{Lat: 12.9, Lon: 190}, SeatsRequired: 1},
		{PassengerID: "", Pickup: models.Coord{Lat: 12.9, Lon: 77.6}, SeatsRequired: 1},
	}
	for i, req := range cases {
		err := h.coord.Dispatch(context.Background(), req)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if h.coord.ActiveCount() != 0 {
		t.Fatal("invalid requests must not create state")
	}
}

func TestWinnerMarkedUnavailableAndLosersInformed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seedDriver(t, "d1", 12.901, 77.601, 4.5, 4)
	h.seedDriver(t, "d2", 12.902, 77.602, 4.5, 4)
	req := newRequest(1)
	if err := h.coord.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := h.coord.Accept(context.Background(), req.ID, "d1", ""); err != nil {
		t.Fatal(err)
	}

	cands, err := h.gw.FindAvailableDrivers(context.Background(), storage.Filter{DriverIDs: []string{"d1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatal("winner must be marked unavailable")
	}
	taken := false
	for _, ev := range h.notifier.driverEvents("d2") {
		if ev.Kind == models.EventRideTaken {
			taken = true
		}
	}
	if !taken {
		t.Fatal("other notified drivers must hear the request was taken")
	}
	assigned := false
	for _, ev := range h.notifier.passengerEvents("pass1") {
		if ev.Kind == models.EventRideAssigned {
			assigned = true
		}
	}
	if !assigned {
		t.Fatal("passenger must hear the assignment")
	}
}

// gatewaySupply mirrors the production demand/supply source: open
// requests from the gateway, available drivers from the geo index.
type gatewaySupply struct {
	gw  *storage.MemoryGateway
	idx *geo.CellIndex
}

func (s *gatewaySupply) Counts(ctx context.Context, at models.Coord, radiusKm float64) (int, int, error) {
	drivers, err := s.idx.CountNear(ctx, at, radiusKm)
	if err != nil {
		return 0, 0, err
	}
	open, err := s.gw.CountOpenRequests(ctx, at, radiusKm)
	if err != nil {
		return 0, 0, err
	}
	return open, drivers, nil
}

func TestOpenDispatchesFeedSurgeDemand(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seedDriver(t, "d1", 12.901, 77.601, 4.5, 6)

	ctx := context.Background()
	reqs := make([]*models.RideRequest, 0, 5)
	for i := 0; i < 5; i++ {
		req := newRequest(1)
		req.PassengerID = fmt.Sprintf("pass%d", i)
		if err := h.coord.Dispatch(ctx, req); err != nil {
			t.Fatal(err)
		}
		reqs = append(reqs, req)
	}

	pickup := models.Coord{Lat: 12.90, Lon: 77.60}
	open, err := h.gw.CountOpenRequests(ctx, pickup, 5)
	if err != nil {
		t.Fatal(err)
	}
	if open != 5 {
		t.Fatalf("open requests = %d, want 5", open)
	}

	est := fare.NewEstimator(fare.DefaultConfig(), &gatewaySupply{gw: h.gw, idx: h.idx}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	offPeak := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)
	fe := est.Estimate(ctx, 1000, pickup, offPeak)
	// 5 open requests vs 1 driver is deep into the highest tier
	if fe.Multiplier != 2.0 {
		t.Fatalf("multiplier = %v, want 2.0", fe.Multiplier)
	}
	if fe.Total != 2000 {
		t.Fatalf("total = %d, want 2000", fe.Total)
	}

	// terminal transitions retire the demand contribution
	if err := h.coord.Cancel(ctx, reqs[0].ID, reqs[0].PassengerID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.coord.Accept(ctx, reqs[1].ID, "d1", ""); err != nil {
		t.Fatal(err)
	}
	open, err = h.gw.CountOpenRequests(ctx, pickup, 5)
	if err != nil {
		t.Fatal(err)
	}
	if open != 3 {
		t.Fatalf("open requests after cancel+accept = %d, want 3", open)
	}
}
