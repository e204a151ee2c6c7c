// Package geocode is the boundary to the mapping provider: free-text
// address resolution and route metrics. The core treats it as an opaque
// collaborator that either answers or fails.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/ride-lobby/internal/models"
)

// ErrNotFound is returned when the provider has no result for an
// address.
var ErrNotFound = errors.New("address not found")

type Place struct {
	Loc         models.Coord `json:"loc"`
	DisplayName string       `json:"display_name"`
}

// Resolver turns free-text addresses into candidate places.
type Resolver interface {
	Resolve(ctx context.Context, address string) ([]Place, error)
}

// HTTPResolver queries a Nominatim-compatible search endpoint.
type HTTPResolver struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPResolver(endpoint string) *HTTPResolver {
	return &HTTPResolver{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (r *HTTPResolver) Resolve(ctx context.Context, address string) ([]Place, error) {
	u := fmt.Sprintf("%s/search?format=json&limit=5&q=%s", r.Endpoint, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode status %d", resp.StatusCode)
	}
	var raw []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(resp.Body, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Place, 0, len(raw))
	for _, p := range raw {
		lat, err1 := strconv.ParseFloat(p.Lat, 64)
		lon, err2 := strconv.ParseFloat(p.Lon, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Place{Loc: models.Coord{Lat: lat, Lon: lon}, DisplayName: p.DisplayName})
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// RouteMetrics is what finalization and lobby creation need from the
// routing engine.
type RouteMetrics struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Router computes route metrics between two points.
type Router interface {
	Route(ctx context.Context, from, to models.Coord) (RouteMetrics, error)
}

// OSRMRouter performs route lookups against an OSRM HTTP server.
type OSRMRouter struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMRouter(endpoint string) *OSRMRouter {
	return &OSRMRouter{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (o *OSRMRouter) Route(ctx context.Context, from, to models.Coord) (RouteMetrics, error) {
	// /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=false
	u := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RouteMetrics{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return RouteMetrics{}, fmt.Errorf("route request: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := decodeJSON(resp.Body, &out); err != nil {
		return RouteMetrics{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return RouteMetrics{}, fmt.Errorf("no route: %v", out.Code)
	}
	return RouteMetrics{DistanceMeters: out.Routes[0].Distance, DurationSeconds: out.Routes[0].Duration}, nil
}

// EstimateRoute is the offline fallback: haversine distance at a flat
// city speed.
func EstimateRoute(from, to models.Coord, speedMps float64) RouteMetrics {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	d := Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return RouteMetrics{DistanceMeters: d, DurationSeconds: d / speedMps}
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
