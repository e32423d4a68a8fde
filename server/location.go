package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"pinpoint.live/spatial"
)

const sessionCookieName = "pinpoint_session"

// ErrNoSample means the browser has no usable reading for this tick
var ErrNoSample = errors.New("no location sample")

// Locator supplies the latest raw geolocation reading for a session
type Locator interface {
	Locate(ctx context.Context) (spatial.Sample, error)
}

// NewSessionID returns a short random session id
func NewSessionID() string {
	return uuid.NewString()[:8]
}

// getSessionToken retrieves or creates the session id from cookie
func getSessionToken(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && validSessionID(cookie.Value) {
		return cookie.Value
	}

	token := NewSessionID()

	// session only (no expiry), httpOnly
	isSecure := r.Header.Get("X-Forwarded-Proto") == "https" || r.TLS != nil
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return token
}

func validSessionID(s string) bool {
	if len(s) == 0 || len(s) > 36 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
		default:
			return false
		}
	}
	return true
}

// SampleReport is what the browser sends: a reading or the reason it
// could not get one
type SampleReport struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Accuracy float64  `json:"accuracy"`
	Error    string   `json:"error,omitempty"`
}

// Sample validates the report and converts it to a spatial.Sample
func (r SampleReport) Sample(now time.Time) (spatial.Sample, error) {
	if r.Error != "" {
		return spatial.Sample{}, fmt.Errorf("%w: %s", ErrNoSample, r.Error)
	}
	if r.Lat == nil || r.Lon == nil {
		return spatial.Sample{}, fmt.Errorf("%w: missing lat/lon", ErrNoSample)
	}
	p := spatial.GeoPoint{Lat: *r.Lat, Lon: *r.Lon}
	if !p.Valid() {
		return spatial.Sample{}, fmt.Errorf("%w: %s out of range", ErrNoSample, p)
	}
	acc := r.Accuracy
	if acc < 0 || math.IsNaN(acc) || math.IsInf(acc, 0) {
		acc = 0
	}
	return spatial.Sample{Point: p, Accuracy: acc, Time: now}, nil
}

// Mailbox holds the most recent reading posted by the browser.
// A reading older than maxAge is treated as absent.
type Mailbox struct {
	mu     sync.Mutex
	sample *spatial.Sample
	reason string
	maxAge time.Duration
	now    func() time.Time
}

// NewMailbox returns an empty mailbox
func NewMailbox(maxAge time.Duration) *Mailbox {
	return &Mailbox{maxAge: maxAge, now: time.Now}
}

// Put stores a reading, replacing any earlier one
func (m *Mailbox) Put(s spatial.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = &s
	m.reason = ""
}

// Fail records that the browser could not get a reading
func (m *Mailbox) Fail(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = nil
	m.reason = reason
}

// Report applies a browser report
func (m *Mailbox) Report(r SampleReport) error {
	s, err := r.Sample(m.now())
	if err != nil {
		reason := r.Error
		if reason == "" {
			reason = err.Error()
		}
		m.Fail(reason)
		return err
	}
	m.Put(s)
	return nil
}

func (m *Mailbox) Locate(ctx context.Context) (spatial.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sample == nil {
		if m.reason != "" {
			return spatial.Sample{}, fmt.Errorf("%w: %s", ErrNoSample, m.reason)
		}
		return spatial.Sample{}, ErrNoSample
	}
	if m.maxAge > 0 && m.now().Sub(m.sample.Time) > m.maxAge {
		return spatial.Sample{}, fmt.Errorf("%w: reading is stale", ErrNoSample)
	}
	return *m.sample, nil
}
