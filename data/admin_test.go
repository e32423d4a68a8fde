package data

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"pinpoint.live/spatial"
)

func newTestCoordinator() (*Coordinator, Store) {
	store, _ := NewMemoryStore("")
	return NewCoordinator(store, nil, DefaultTarget), store
}

func TestClaimFirstWins(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator()

	ok, err := c.Claim(ctx, "first")
	if err != nil || !ok {
		t.Fatalf("first Claim = %v, %v; want true", ok, err)
	}
	ok, err = c.Claim(ctx, "second")
	if err != nil || ok {
		t.Fatalf("second Claim = %v, %v; want false", ok, err)
	}
	// the holder keeps reporting true
	if ok, _ := c.Claim(ctx, "first"); !ok {
		t.Errorf("repeat Claim by holder = false")
	}
	if admin, _ := c.Admin(ctx); admin != "first" {
		t.Errorf("Admin() = %q, want first", admin)
	}
	if !c.IsAdmin(ctx, "first") || c.IsAdmin(ctx, "second") {
		t.Errorf("IsAdmin mismatch")
	}
}

// TestClaimConcurrent checks exactly one of many racing sessions wins
func TestClaimMalformedAdminNode(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator()
	if err := store.Set(ctx, adminPath, 42.0); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ok, err := c.Claim(ctx, "first")
	if err != nil || ok {
		t.Fatalf("Claim over a numeric admin node = %v, %v; want false", ok, err)
	}
	if !strings.Contains(buf.String(), "admin node is float64") {
		t.Errorf("malformed admin node not logged, got %q", buf.String())
	}
}

func TestClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if ok, _ := c.Claim(ctx, id); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d sessions won the claim, want 1", wins)
	}
}

func TestSetTarget(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator()
	c.Claim(ctx, "admin1")

	tests := []struct {
		name    string
		session string
		point   spatial.GeoPoint
		wantErr error
	}{
		{"admin sets target", "admin1", spatial.GeoPoint{Lat: 17.4, Lon: 78.5}, nil},
		{"non-admin rejected", "other", spatial.GeoPoint{Lat: 1, Lon: 1}, ErrNotAdmin},
		{"invalid latitude", "admin1", spatial.GeoPoint{Lat: 91, Lon: 0}, ErrInvalidPoint},
		{"invalid longitude", "admin1", spatial.GeoPoint{Lat: 0, Lon: -181}, ErrInvalidPoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.SetTarget(ctx, tt.session, tt.point)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetTarget() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := c.Target(ctx); got != (spatial.GeoPoint{Lat: 17.4, Lon: 78.5}) {
		t.Errorf("Target() = %v, want 17.4,78.5", got)
	}
}

func TestTargetDefault(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator()

	if got := c.Target(ctx); got != DefaultTarget {
		t.Errorf("unset Target() = %v, want default", got)
	}

	malformed := []interface{}{
		"17.4,78.5",
		map[string]interface{}{"lat": 17.4},
		map[string]interface{}{"lat": "x", "lon": "y"},
		map[string]interface{}{"lat": 200.0, "lon": 0.0},
	}
	for _, v := range malformed {
		store.Set(ctx, "target", v)
		if got := c.Target(ctx); got != DefaultTarget {
			t.Errorf("Target() with %v = %v, want default", v, got)
		}
	}
}

func TestRouteWithoutRouter(t *testing.T) {
	c, _ := newTestCoordinator()
	path := c.Route(context.Background(), spatial.GeoPoint{Lat: 1, Lon: 1}, spatial.GeoPoint{Lat: 2, Lon: 2})
	if path == nil || len(path) != 0 {
		t.Errorf("Route() = %v, want empty non-nil", path)
	}
}
