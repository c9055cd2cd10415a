package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/dispatch"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/observability"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/rides/{request_id}/accept", s.handleAccept).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/rides/{request_id}/reject", s.handleReject).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/rides/{request_id}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/ws/passenger/{passenger_id}", s.handlePassengerWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	if err := s.coord.Dispatch(r.Context(), &req); err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": req.ID,
		"status":     "dispatching",
	})
}

type acceptBody struct {
	DriverID  string `json:"driver_id"`
	VehicleID string `json:"vehicle_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.DriverID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "driver_id is required")
		return
	}

	assignment, err := s.coord.Accept(r.Context(), requestID, body.DriverID, body.VehicleID)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.DriverID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "driver_id is required")
		return
	}
	s.coord.Reject(requestID, body.DriverID)
	w.WriteHeader(http.StatusNoContent)
}

type cancelBody struct {
	PassengerID string `json:"passenger_id"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]
	var body cancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.coord.Cancel(r.Context(), requestID, body.PassengerID); err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if loc.DriverID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "driver_id is required")
		return
	}
	if loc.Loc.Lat < -90 || loc.Loc.Lat > 90 || loc.Loc.Lon < -180 || loc.Loc.Lon > 180 {
		writeError(w, http.StatusBadRequest, "bad_request", "coordinates out of range")
		return
	}
	if !s.limiter.Allow(loc.DriverID) {
		observability.LocationThrottledTotal.Inc()
		writeError(w, http.StatusTooManyRequests, "throttled", "location updates too frequent")
		return
	}
	if loc.Updated.IsZero() {
		loc.Updated = time.Now().UTC()
	}

	if s.kafka != nil {
		if err := s.kafka.PublishLocation(loc); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", loc.DriverID, "error", err)
		}
	}
	if err := s.geoIdx.Upsert(r.Context(), loc); err != nil {
		s.logger.Error("geo upsert failed", "driver_id", loc.DriverID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "location update failed")
		return
	}
	observability.LocationUpdatesTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

// writeDispatchError maps coordinator errors onto HTTP statuses. Race
// losses and capacity mismatches are conflicts, not server faults.
func (s *Server) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *dispatch.ValidationError
		ce  *dispatch.CapacityMismatchError
		rle *dispatch.RaceLossError
		rec *dispatch.ReconciliationError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation", ve.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, "capacity_mismatch", ce.Error())
	case errors.As(err, &rle):
		writeError(w, http.StatusConflict, "race_loss", rle.Error())
	case errors.Is(err, dispatch.ErrNoCandidates):
		writeError(w, http.StatusNotFound, "no_candidates", "no drivers available")
	case errors.Is(err, dispatch.ErrRequestResolved):
		writeError(w, http.StatusGone, "resolved", "request already resolved")
	case errors.As(err, &rec):
		s.logger.Error("reconciliation required", "error", rec,
			"request_id", requestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "reconciliation", "assignment recorded with persistence errors")
	default:
		s.logger.Error("dispatch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "dispatch failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}
