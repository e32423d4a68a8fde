package spatial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
)

const (
	mapboxBaseURL = "https://api.mapbox.com"
	osrmBaseURL   = "https://router.project-osrm.org"

	// RouteTimeout bounds a single routing call
	RouteTimeout = 5 * time.Second
)

var errNoRoute = errors.New("no route found")

// Router returns a walking path between two points
type Router interface {
	Route(ctx context.Context, from, to GeoPoint) ([]GeoPoint, error)
}

// MapboxRouter uses the Mapbox Directions API
type MapboxRouter struct {
	Client  *ExternalClient
	BaseURL string
	Token   string
	Profile string // walking, cycling, driving
}

// NewMapboxRouter returns a walking router for the given access token
func NewMapboxRouter(client *ExternalClient, token string) *MapboxRouter {
	return &MapboxRouter{
		Client:  client,
		BaseURL: mapboxBaseURL,
		Token:   token,
		Profile: "walking",
	}
}

func (r *MapboxRouter) Route(ctx context.Context, from, to GeoPoint) ([]GeoPoint, error) {
	u := fmt.Sprintf("%s/directions/v5/mapbox/%s/%f,%f;%f,%f?geometries=geojson&access_token=%s",
		strings.TrimSuffix(r.BaseURL, "/"), r.Profile, from.Lon, from.Lat, to.Lon, to.Lat, url.QueryEscape(r.Token))

	body, err := r.Client.GetJSON(ctx, "mapbox", u)
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}

	var data struct {
		Code   string        `json:"code"`
		Routes []routeResult `json:"routes"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if data.Code != "" && data.Code != "Ok" {
		return nil, fmt.Errorf("mapbox: %s", data.Code)
	}
	if len(data.Routes) == 0 {
		return nil, errNoRoute
	}
	return data.Routes[0].path()
}

// OSRMRouter uses an OSRM server, the public demo server by default
type OSRMRouter struct {
	Client  *ExternalClient
	BaseURL string
}

// NewOSRMRouter returns a foot-profile router
func NewOSRMRouter(client *ExternalClient) *OSRMRouter {
	return &OSRMRouter{Client: client, BaseURL: osrmBaseURL}
}

func (r *OSRMRouter) Route(ctx context.Context, from, to GeoPoint) ([]GeoPoint, error) {
	u := fmt.Sprintf("%s/route/v1/foot/%f,%f;%f,%f?overview=full&geometries=geojson",
		strings.TrimSuffix(r.BaseURL, "/"), from.Lon, from.Lat, to.Lon, to.Lat)

	body, err := r.Client.GetJSON(ctx, "osrm", u)
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}

	var data struct {
		Code   string        `json:"code"`
		Routes []routeResult `json:"routes"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if data.Code != "Ok" || len(data.Routes) == 0 {
		return nil, errNoRoute
	}
	return data.Routes[0].path()
}

// routeResult is the geojson route shape shared by Mapbox and OSRM
type routeResult struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry struct {
		Coordinates [][]float64 `json:"coordinates"` // [lon, lat] pairs
	} `json:"geometry"`
}

func (r routeResult) path() ([]GeoPoint, error) {
	if len(r.Geometry.Coordinates) == 0 {
		return nil, errNoRoute
	}
	points := make([]GeoPoint, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			return nil, fmt.Errorf("malformed coordinate %v", c)
		}
		p := GeoPoint{Lat: c[1], Lon: c[0]}
		if !p.Valid() {
			return nil, fmt.Errorf("coordinate out of range %v", c)
		}
		points = append(points, p)
	}
	return points, nil
}

// Routes fetches routes through a short-lived cache.
// A route is cosmetic: failures yield an empty path, never an error.
type Routes struct {
	router  Router
	cache   *RouteCache
	timeout time.Duration
}

// NewRoutes wraps a router with a cache holding results for ttl
func NewRoutes(router Router, ttl time.Duration) *Routes {
	return &Routes{
		router:  router,
		cache:   NewRouteCache(ttl),
		timeout: RouteTimeout,
	}
}

// Cache exposes the underlying cache
func (r *Routes) Cache() *RouteCache {
	return r.cache
}

// Fetch returns the route from start to end, or an empty path on failure
func (r *Routes) Fetch(ctx context.Context, start, end GeoPoint) []GeoPoint {
	key := RouteKey(start, end)
	if path, ok := r.cache.Get(key); ok {
		return path
	}

	if r.router == nil {
		return []GeoPoint{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	path, err := r.router.Route(ctx, start, end)
	if err != nil {
		log.Printf("[route] %s -> %s: %v", start, end, err)
		path = []GeoPoint{}
	}

	// a moving start point never hits again, so drop what has expired
	r.cache.Purge()
	// failures are cached as well so a broken router is not hammered every tick
	r.cache.Set(key, path)
	return path
}

// SetTimeout overrides RouteTimeout for each router call
func (r *Routes) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}
