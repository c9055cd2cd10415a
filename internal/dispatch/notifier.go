package dispatch

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// ErrNoSession means the recipient has no live transport session.
// Delivery is at-most-once per attempt; the coordinator treats a
// missing session as a skipped notification, not a failure.
var ErrNoSession = errors.New("dispatch: no session")

// Notifier pushes events to driver and passenger clients.
type Notifier interface {
	NotifyDriver(driverID string, ev models.Event) error
	NotifyPassenger(passengerID string, ev models.Event) error
}

// wsSession serializes writes to one websocket connection.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSNotifier holds live driver and passenger sessions. Sessions are
// removed explicitly on disconnect; the registry never outlives its
// connections.
type WSNotifier struct {
	mu         sync.RWMutex
	drivers    map[string]*wsSession
	passengers map[string]*wsSession
	log        *slog.Logger
}

func NewWSNotifier(log *slog.Logger) *WSNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &WSNotifier{
		drivers:    make(map[string]*wsSession),
		passengers: make(map[string]*wsSession),
		log:        log,
	}
}

func (n *WSNotifier) AddDriver(driverID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drivers[driverID] = &wsSession{conn: conn}
}

func (n *WSNotifier) RemoveDriver(driverID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.drivers, driverID)
}

func (n *WSNotifier) AddPassenger(passengerID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.passengers[passengerID] = &wsSession{conn: conn}
}

func (n *WSNotifier) RemovePassenger(passengerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.passengers, passengerID)
}

func (n *WSNotifier) NotifyDriver(driverID string, ev models.Event) error {
	n.mu.RLock()
	s, ok := n.drivers[driverID]
	n.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(ev); err != nil {
		n.log.Warn("driver notify failed", "driver_id", driverID, "kind", ev.Kind, "error", err)
		return err
	}
	return nil
}

func (n *WSNotifier) NotifyPassenger(passengerID string, ev models.Event) error {
	n.mu.RLock()
	s, ok := n.passengers[passengerID]
	n.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(ev); err != nil {
		n.log.Warn("passenger notify failed", "passenger_id", passengerID, "kind", ev.Kind, "error", err)
		return err
	}
	return nil
}
