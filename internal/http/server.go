package httpapi

import (
	"context"
	"log/slog"
	"os"

	"github.com/gorilla/mux"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/config"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/dispatch"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/eta"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/fare"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geo"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/ingest"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/logging"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/payments"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/scoring"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/storage"
)

// LocationPublisher is the optional Kafka hook for location updates.
type LocationPublisher interface {
	PublishLocation(loc models.DriverLocation) error
}

type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	coord    *dispatch.Coordinator
	geoIdx   geo.Index
	gw       storage.Gateway
	notifier *dispatch.WSNotifier
	kafka    LocationPublisher
	limiter  *ingest.RateLimiter
	mux      *mux.Router
}

// supplySource joins the live driver index and the durable store
// into the surge demand/supply signal.
type supplySource struct {
	idx geo.Index
	gw  storage.Gateway
}

func (s *supplySource) Counts(ctx context.Context, at models.Coord, radiusKm float64) (int, int, error) {
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

// NewServer wires the dispatch core from explicit collaborators.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, gw storage.Gateway, geoIdx geo.Index, kafka LocationPublisher) *Server {
	notifier := dispatch.NewWSNotifier(logger)

	engine := scoring.NewEngine(scoring.Config{
		MaxRadiusKm:       cfg.SearchRadiusKm,
		MaxETAMinutes:     cfg.MaxETAMinutes,
		AvgSpeedKmh:       cfg.AvgSpeedKmh,
		NeutralRating:     cfg.NeutralRating,
		NeutralAcceptance: cfg.NeutralAcceptance,
		Weights:           scoring.DefaultConfig().Weights,
	})

	fareCfg := fare.DefaultConfig()
	fareCfg.Cap = cfg.SurgeCap
	fareCfg.SupplyRadiusKm = cfg.SupplyRadiusKm
	fares := fare.NewEstimator(fareCfg, &supplySource{idx: geoIdx, gw: gw}, logger)

	coord := dispatch.NewCoordinator(dispatch.Config{
		TopN:           cfg.TopN,
		OfferTTL:       cfg.OfferTTL,
		SearchRadiusKm: cfg.SearchRadiusKm,
		BaseFareMinor:  cfg.BaseFareMinor,
		Currency:       cfg.Currency,
	}, gw, geoIdx, engine, fares, notifier, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		coord:    coord,
		geoIdx:   geoIdx,
		gw:       gw,
		notifier: notifier,
		kafka:    kafka,
		limiter:  ingest.NewRateLimiter(cfg.LocationMinInterval),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromEnv builds a Server with env-driven wiring and
// sensible fallbacks: Redis GEO or the in-memory cell index, postgres
// or the in-memory gateway, Kafka and Stripe only when configured.
func NewServerFromEnv() (*Server, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var geoIdx geo.Index
	if cfg.RedisAddr != "" {
		geoIdx = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		geoIdx = geo.NewCellIndex(0)
	}

	var gw storage.Gateway
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresGateway(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		gw = pg
	} else {
		gw = storage.NewMemoryGateway()
	}

	var kafka LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	s := NewServer(cfg, logger, gw, geoIdx, kafka)
	if cfg.OSRMEndpoint != "" {
		s.coord.SetRouter(eta.NewOSRMClient(cfg.OSRMEndpoint))
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		s.coord.SetPayments(payments.NewStripeClient())
	}
	return s, nil
}

// Coordinator exposes the dispatch core for the cmd wiring.
func (s *Server) Coordinator() *dispatch.Coordinator { return s.coord }

// Config returns the loaded configuration.
func (s *Server) Config() config.ServerConfig { return s.cfg }
