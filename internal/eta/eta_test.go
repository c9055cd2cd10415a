package eta

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

func TestEstimateMinutesFloorsAtOne(t *testing.T) {
	a := models.Coord{Lat: 12.9716, Lon: 77.5946}
	b := models.Coord{Lat: 12.9717, Lon: 77.5947} // a few meters away
	if got := EstimateMinutes(a, b, 30); got != 1 {
		t.Fatalf("EstimateMinutes = %v, want floor of 1", got)
	}
}

func TestEstimateMinutesScalesWithDistance(t *testing.T) {
	a := models.Coord{Lat: 12.9716, Lon: 77.5946}
	b := models.Coord{Lat: 13.0616, Lon: 77.5946} // ~10km north
	got := EstimateMinutes(a, b, 30)
	if got < 18 || got > 22 {
		t.Fatalf("EstimateMinutes = %v, want ~20 for 10km at 30km/h", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	a := models.Coord{Lat: 1, Lon: 2}
	b := models.Coord{Lat: 3, Lon: 4}

	c.Set(a, b, 7)
	if v, ok := c.Get(a, b); !ok || v != 7 {
		t.Fatalf("Get = %v,%v, want 7,true", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestOSRMClientParsesDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":372.5}]}`)
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	secs, err := c.EstimateSeconds(models.Coord{Lat: 1, Lon: 2}, models.Coord{Lat: 3, Lon: 4})
	if err != nil {
		t.Fatalf("EstimateSeconds: %v", err)
	}
	if secs != 372.5 {
		t.Fatalf("duration = %v, want 372.5", secs)
	}
}

func TestOSRMClientRejectsNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	if _, err := c.EstimateSeconds(models.Coord{Lat: 1, Lon: 2}, models.Coord{Lat: 3, Lon: 4}); err == nil {
		t.Fatal("expected error for NoRoute response")
	}
}
