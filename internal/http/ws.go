package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/dispatch"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// driverMessage is the inbound frame drivers send on their socket.
type driverMessage struct {
	Action    string `json:"action"` // "accept" or "reject"
	RequestID string `json:"request_id"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

type passengerMessage struct {
	Action    string `json:"action"` // "cancel"
	RequestID string `json:"request_id"`
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	s.notifier.AddDriver(driverID, conn)
	defer func() {
		s.notifier.RemoveDriver(driverID)
		conn.Close()
	}()

	for {
		var msg driverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("driver ws read failed", "driver_id", driverID, "error", err)
			}
			return
		}
		switch msg.Action {
		case "accept":
			if _, err := s.coord.Accept(r.Context(), msg.RequestID, driverID, msg.VehicleID); err != nil {
				// losers and capacity mismatches learn their fate
				// on the same socket the offer arrived on
				denied := models.Event{
					Kind:      models.EventAcceptDenied,
					RequestID: msg.RequestID,
					Payload:   map[string]string{"reason": err.Error()},
				}
				if nerr := s.notifier.NotifyDriver(driverID, denied); nerr != nil && nerr != dispatch.ErrNoSession {
					s.logger.Warn("accept denial delivery failed", "driver_id", driverID, "request_id", msg.RequestID, "error", nerr)
				}
			}
		case "reject":
			s.coord.Reject(msg.RequestID, driverID)
		default:
			s.logger.Warn("unknown driver ws action", "driver_id", driverID, "action", msg.Action)
		}
	}
}

func (s *Server) handlePassengerWS(w http.ResponseWriter, r *http.Request) {
	passengerID := mux.Vars(r)["passenger_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "passenger_id", passengerID, "error", err)
		return
	}
	s.notifier.AddPassenger(passengerID, conn)
	defer func() {
		s.notifier.RemovePassenger(passengerID)
		conn.Close()
	}()

	for {
		var msg passengerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("passenger ws read failed", "passenger_id", passengerID, "error", err)
			}
			return
		}
		if msg.Action == "cancel" {
			if err := s.coord.Cancel(r.Context(), msg.RequestID, passengerID); err != nil {
				s.logger.Info("ws cancel rejected", "request_id", msg.RequestID, "error", err)
			}
		}
	}
}
