package data

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pinpoint.live/spatial"
)

const (
	adminPath  = "admin"
	targetPath = "target"
)

var (
	ErrNotAdmin     = errors.New("session is not the admin")
	ErrInvalidPoint = errors.New("point out of range")
)

// DefaultTarget is used until an admin sets one
var DefaultTarget = spatial.GeoPoint{Lat: 17.3850, Lon: 78.4867}

// Coordinator handles the admin claim, the shared target and admin routes
type Coordinator struct {
	store         Store
	routes        *spatial.Routes
	defaultTarget spatial.GeoPoint
}

// NewCoordinator returns a coordinator. routes may be nil, in which case
// Route always returns an empty path.
func NewCoordinator(store Store, routes *spatial.Routes, defaultTarget spatial.GeoPoint) *Coordinator {
	return &Coordinator{
		store:         store,
		routes:        routes,
		defaultTarget: defaultTarget,
	}
}

// Claim makes sessionID the admin if nobody is, and reports whether it is
// the admin afterwards. The first writer wins; later claims read back the
// existing holder.
func (c *Coordinator) Claim(ctx context.Context, sessionID string) (bool, error) {
	holder, err := c.holder(ctx)
	if err != nil {
		return false, err
	}
	if holder == "" {
		if _, err := c.store.SetIfAbsent(ctx, adminPath, sessionID); err != nil {
			return false, fmt.Errorf("claim admin: %w", err)
		}
		if holder, err = c.holder(ctx); err != nil {
			return false, err
		}
		if holder == sessionID {
			log.Printf("[admin] %s claimed admin", sessionID)
		}
	}
	return holder == sessionID, nil
}

// IsAdmin reports whether sessionID holds the claim
func (c *Coordinator) IsAdmin(ctx context.Context, sessionID string) bool {
	holder, err := c.holder(ctx)
	if err != nil {
		log.Printf("[admin] %v", err)
		return false
	}
	return holder != "" && holder == sessionID
}

// Admin returns the current claim holder, empty if unclaimed
func (c *Coordinator) Admin(ctx context.Context) (string, error) {
	return c.holder(ctx)
}

func (c *Coordinator) holder(ctx context.Context) (string, error) {
	v, err := c.store.Get(ctx, adminPath)
	if err != nil {
		return "", fmt.Errorf("read admin: %w", err)
	}
	s, ok := v.(string)
	if !ok && v != nil {
		log.Printf("[admin] admin node is %T, nobody can claim it", v)
	}
	return s, nil
}

// SetTarget overwrites the shared target. Only the admin may call it.
func (c *Coordinator) SetTarget(ctx context.Context, sessionID string, point spatial.GeoPoint) error {
	if !point.Valid() {
		return ErrInvalidPoint
	}
	if !c.IsAdmin(ctx, sessionID) {
		return ErrNotAdmin
	}
	err := c.store.Set(ctx, targetPath, map[string]interface{}{
		"lat": point.Lat,
		"lon": point.Lon,
	})
	if err != nil {
		return fmt.Errorf("set target: %w", err)
	}
	log.Printf("[admin] target set to %s by %s", point, sessionID)
	return nil
}

// Target returns the shared target, or the default when it is unset,
// malformed or the store cannot be read
func (c *Coordinator) Target(ctx context.Context) spatial.GeoPoint {
	v, err := c.store.Get(ctx, targetPath)
	if err != nil {
		log.Printf("[admin] read target: %v", err)
		return c.defaultTarget
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return c.defaultTarget
	}
	lat, ok1 := number(m["lat"])
	lon, ok2 := number(m["lon"])
	p := spatial.GeoPoint{Lat: lat, Lon: lon}
	if !ok1 || !ok2 || !p.Valid() {
		return c.defaultTarget
	}
	return p
}

// Route returns a walking path from start to end, empty on any failure
func (c *Coordinator) Route(ctx context.Context, start, end spatial.GeoPoint) []spatial.GeoPoint {
	if c.routes == nil {
		return []spatial.GeoPoint{}
	}
	return c.routes.Fetch(ctx, start, end)
}
