package data

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"pinpoint.live/spatial"
)

// OnlineWindow is how recent a user's last update must be to count as online
const OnlineWindow = 20 * time.Second

const usersPath = "users"

// Presence is whether a user is currently reporting
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

// UserRecord is a user's last published position
type UserRecord struct {
	ID           string           `json:"id"`
	Point        spatial.GeoPoint `json:"point"`
	Updated      time.Time        `json:"updated"`
	HasTimestamp bool             `json:"has_timestamp"`
}

// Classify reports a record online iff it has a timestamp younger than
// OnlineWindow at now
func Classify(rec UserRecord, now time.Time) Presence {
	return classifyWindow(rec, now, OnlineWindow)
}

func classifyWindow(rec UserRecord, now time.Time, window time.Duration) Presence {
	if !rec.HasTimestamp {
		return Offline
	}
	if now.Sub(rec.Updated) < window {
		return Online
	}
	return Offline
}

// PresenceStore reads and writes per-user records in the shared store
type PresenceStore struct {
	store  Store
	window time.Duration
}

// NewPresenceStore returns an adapter using window as the online threshold
func NewPresenceStore(store Store, window time.Duration) *PresenceStore {
	if window <= 0 {
		window = OnlineWindow
	}
	return &PresenceStore{store: store, window: window}
}

// Classify applies the adapter's online window
func (p *PresenceStore) Classify(rec UserRecord, now time.Time) Presence {
	return classifyWindow(rec, now, p.window)
}

// Publish overwrites the session's record with its latest position
func (p *PresenceStore) Publish(ctx context.Context, sessionID string, point spatial.GeoPoint, ts time.Time) error {
	if sessionID == "" {
		return fmt.Errorf("publish: empty session id")
	}
	err := p.store.Set(ctx, usersPath+"/"+sessionID, map[string]interface{}{
		"lat": point.Lat,
		"lon": point.Lon,
		"ts":  float64(ts.UnixNano()) / 1e9,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", sessionID, err)
	}
	return nil
}

// FetchAll returns every well-formed user record. Records without a
// numeric lat and lon are skipped.
func (p *PresenceStore) FetchAll(ctx context.Context) (map[string]UserRecord, error) {
	raw, err := p.store.Get(ctx, usersPath)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}

	out := make(map[string]UserRecord)
	users, ok := raw.(map[string]interface{})
	if !ok {
		if raw != nil {
			log.Printf("[presence] users node is %T, ignoring", raw)
		}
		return out, nil
	}

	for id, v := range users {
		rec, ok := parseUserRecord(id, v)
		if !ok {
			log.Printf("[presence] skipping malformed record %s", id)
			continue
		}
		out[id] = rec
	}
	return out, nil
}

func parseUserRecord(id string, v interface{}) (UserRecord, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return UserRecord{}, false
	}
	lat, ok1 := number(m["lat"])
	lon, ok2 := number(m["lon"])
	if !ok1 || !ok2 {
		return UserRecord{}, false
	}
	point := spatial.GeoPoint{Lat: lat, Lon: lon}
	if !point.Valid() {
		return UserRecord{}, false
	}

	rec := UserRecord{ID: id, Point: point}
	if ts, ok := number(m["ts"]); ok && ts > 0 {
		sec, frac := math.Modf(ts)
		rec.Updated = time.Unix(int64(sec), int64(frac*1e9))
		rec.HasTimestamp = true
	}
	return rec, true
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// UserStatus is a user record with its presence at a point in time
type UserStatus struct {
	UserRecord
	Presence Presence `json:"presence"`
}

// Snapshot returns all users classified at now, sorted by id
func (p *PresenceStore) Snapshot(ctx context.Context, now time.Time) ([]UserStatus, error) {
	records, err := p.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]UserStatus, 0, len(records))
	for _, rec := range records {
		list = append(list, UserStatus{UserRecord: rec, Presence: p.Classify(rec, now)})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}
