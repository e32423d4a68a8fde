package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"pinpoint.live/data"
	"pinpoint.live/spatial"
)

// Session is one browser's view of the dashboard. Its smoothing state,
// tick counter and last view are only touched from Tick.
type Session struct {
	ID      string
	Mailbox *Mailbox

	presence *data.PresenceStore
	admin    *data.Coordinator
	locator  Locator

	mu    sync.Mutex // serializes ticks
	track spatial.Track
	tick  int

	vmu     sync.RWMutex
	view    *View
	updated time.Time
}

// NewSession returns a session reading samples from its own mailbox
func NewSession(id string, presence *data.PresenceStore, admin *data.Coordinator, maxSampleAge time.Duration) *Session {
	mb := NewMailbox(maxSampleAge)
	return &Session{
		ID:       id,
		Mailbox:  mb,
		presence: presence,
		admin:    admin,
		locator:  mb,
		updated:  time.Now(),
	}
}

// Tick runs one pass of the render loop and returns the composed view.
// Collaborator failures degrade the view; they never abort the tick.
func (s *Session) Tick(ctx context.Context, now time.Time) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runTick(ctx, now)
}

// TryTick is Tick unless a tick is already in progress
func (s *Session) TryTick(ctx context.Context, now time.Time) (*View, bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	defer s.mu.Unlock()
	return s.runTick(ctx, now), true
}

func (s *Session) runTick(ctx context.Context, now time.Time) *View {
	f := frame{sessionID: s.ID, tick: s.tick, now: now}
	s.tick++

	// 1. admin and target
	isAdmin, err := s.admin.Claim(ctx, s.ID)
	if err != nil {
		log.Printf("[session] %s admin claim: %v", s.ID, err)
	}
	f.admin = isAdmin
	f.target = s.admin.Target(ctx)

	// 2. position
	sample, err := s.locator.Locate(ctx)
	if err == nil {
		f.hasSample = true
		f.position, s.track = spatial.Smooth(s.track, sample)
		f.accuracy = sample.Accuracy
		f.check = spatial.Verify(f.position, f.target, f.accuracy)
		f.status = f.check.Status()

		if err := s.presence.Publish(ctx, s.ID, f.position, now); err != nil {
			log.Printf("[session] %s publish: %v", s.ID, err)
		}
	} else {
		if !errors.Is(err, ErrNoSample) {
			log.Printf("[session] %s locate: %v", s.ID, err)
		}
		f.err = err.Error()
		if last, ok := s.track.Last(); ok {
			f.position = last
		} else {
			f.position = f.target
		}
		f.accuracy = spatial.FallbackAccuracy
		f.check = spatial.Verify(f.position, f.target, f.accuracy)
		f.status = spatial.StatusUnknown
	}
	f.track = s.track

	// 3. everyone
	users, err := s.presence.Snapshot(ctx, now)
	if err != nil {
		log.Printf("[session] %s fetch users: %v", s.ID, err)
	}
	f.users = users

	// 4. admin route
	if f.admin && f.hasSample {
		f.route = s.admin.Route(ctx, f.position, f.target)
	}

	// 5. compose
	v := compose(f)

	s.vmu.Lock()
	s.view = v
	s.updated = now
	s.vmu.Unlock()

	return v
}

// View returns the last composed view, nil before the first tick
func (s *Session) View() *View {
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	return s.view
}

// Updated is when the session last ticked or was created
func (s *Session) Updated() time.Time {
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	return s.updated
}

// Track returns a copy of the smoothing state
func (s *Session) Track() spatial.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := spatial.Track{Trail: append([]spatial.GeoPoint(nil), s.track.Trail...)}
	if s.track.Previous != nil {
		p := *s.track.Previous
		t.Previous = &p
	}
	return t
}

// Touch marks the session as active
func (s *Session) Touch(now time.Time) {
	s.vmu.Lock()
	defer s.vmu.Unlock()
	if now.After(s.updated) {
		s.updated = now
	}
}
