package geocode

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-lobby/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Munich central station to Munich airport, roughly 28.6 km
	d := Haversine(48.1402, 11.5600, 48.3538, 11.7861)
	if math.Abs(d-28600) > 1500 {
		t.Fatalf("distance %f out of expected range", d)
	}
}

func TestEstimateRoute(t *testing.T) {
	from := models.Coord{Lat: 48.14, Lon: 11.56}
	to := models.Coord{Lat: 48.35, Lon: 11.78}
	m := EstimateRoute(from, to, 10)
	if m.DistanceMeters <= 0 {
		t.Fatalf("distance = %f", m.DistanceMeters)
	}
	if got := m.DistanceMeters / m.DurationSeconds; math.Abs(got-10) > 0.01 {
		t.Fatalf("implied speed %f, want 10", got)
	}
	// zero speed falls back to the default
	m = EstimateRoute(from, to, 0)
	if m.DurationSeconds <= 0 {
		t.Fatalf("default speed produced duration %f", m.DurationSeconds)
	}
}

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "nowhere" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"lat":"48.1402","lon":"11.5600","display_name":"München Hbf"}]`))
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL)
	places, err := r.Resolve(context.Background(), "münchen hbf")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(places) != 1 || places[0].Loc.Lat != 48.1402 || places[0].DisplayName != "München Hbf" {
		t.Fatalf("places = %+v", places)
	}

	if _, err := r.Resolve(context.Background(), "nowhere"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty result: got %v, want ErrNotFound", err)
	}
}

func TestOSRMRouter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":28600.5,"duration":1800.2}]}`))
	}))
	defer srv.Close()

	o := NewOSRMRouter(srv.URL)
	m, err := o.Route(context.Background(), models.Coord{Lat: 48.14, Lon: 11.56}, models.Coord{Lat: 48.35, Lon: 11.78})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if m.DistanceMeters != 28600.5 || m.DurationSeconds != 1800.2 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestOSRMRouter_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	o := NewOSRMRouter(srv.URL)
	if _, err := o.Route(context.Background(), models.Coord{}, models.Coord{Lat: 1}); err == nil {
		t.Fatalf("expected error for NoRoute")
	}
}
