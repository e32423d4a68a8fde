// Package server runs the live dashboard: one Session per browser, a
// shared render loop that ticks every session on a fixed interval, and the
// HTTP and websocket surface that feeds samples in and pushes views out.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pinpoint.live/data"
	"pinpoint.live/spatial"
)

const (
	// DefaultTickInterval is how often every session is re-rendered
	DefaultTickInterval = 10 * time.Second
	// DefaultSessionTTL is how long a session without observers is kept
	DefaultSessionTTL = 10 * time.Minute
)

// Options tune the render loop
type Options struct {
	TickInterval time.Duration
	SessionTTL   time.Duration
	// MaxSampleAge is how long a posted reading stays usable.
	// Defaults to twice the tick interval.
	MaxSampleAge time.Duration

	// for /api/stats; both optional
	Routes   *spatial.Routes
	External *spatial.ExternalClient
}

// Observer receives the views of one session
type Observer struct {
	Id      string
	Session string
	Events  chan *View
	Kill    chan bool
}

func NewObserver(session string) *Observer {
	return &Observer{
		Id:      uuid.New().String(),
		Session: session,
		Events:  make(chan *View, 1),
		Kill:    make(chan bool),
	}
}

type Server struct {
	Created int64

	presence *data.PresenceStore
	admin    *data.Coordinator
	opts     Options
	now      func() time.Time

	mtx       sync.RWMutex
	sessions  map[string]*Session
	observers map[string]*Observer
}

func New(presence *data.PresenceStore, admin *data.Coordinator, opts Options) *Server {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.MaxSampleAge <= 0 {
		opts.MaxSampleAge = 2 * opts.TickInterval
	}
	return &Server{
		Created:   time.Now().UnixNano(),
		presence:  presence,
		admin:     admin,
		opts:      opts,
		now:       time.Now,
		sessions:  make(map[string]*Session),
		observers: make(map[string]*Observer),
	}
}

// Session returns the session with id, creating it if needed
func (s *Server) Session(id string) *Session {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := NewSession(id, s.presence, s.admin, s.opts.MaxSampleAge)
	sess.Mailbox.now = s.now
	sess.updated = s.now()
	s.sessions[id] = sess
	log.Printf("[session] %s started", id)
	return sess
}

// Lookup returns an existing session
func (s *Server) Lookup(id string) (*Session, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns the number of live sessions
func (s *Server) Sessions() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.sessions)
}

// Broadcast sends a view to every observer of the session
func (s *Server) Broadcast(session string, view *View) {
	var observers []*Observer

	s.mtx.RLock()
	for _, o := range s.observers {
		if o.Session == session {
			observers = append(observers, o)
		}
	}
	s.mtx.RUnlock()

	for _, o := range observers {
		// replace an unread view with the newer one
		select {
		case <-o.Events:
		default:
		}
		select {
		case o.Events <- view:
		default:
		}
	}
}

// Observe registers o until its Kill channel is closed
func (s *Server) Observe(o *Observer) {
	s.mtx.Lock()
	s.observers[o.Id] = o
	s.mtx.Unlock()

	go func() {
		<-o.Kill
		s.mtx.Lock()
		delete(s.observers, o.Id)
		s.mtx.Unlock()
	}()
}

func (s *Server) observed(session string) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	for _, o := range s.observers {
		if o.Session == session {
			return true
		}
	}
	return false
}

// Refresh ticks one session now and broadcasts the result
func (s *Server) Refresh(ctx context.Context, sess *Session) *View {
	v := sess.Tick(ctx, s.now())
	s.Broadcast(sess.ID, v)
	return v
}

// tickAll ticks every observed session. Sessions are independent, so a
// slow routing call in one never delays another.
func (s *Server) tickAll(ctx context.Context) {
	s.mtx.RLock()
	var sessions []*Session
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mtx.RUnlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		if !s.observed(sess.ID) {
			continue
		}
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			if v, ok := sess.TryTick(ctx, s.now()); ok {
				s.Broadcast(sess.ID, v)
			}
		}(sess)
	}
	wg.Wait()
}

// prune drops sessions that have no observer and have not ticked in TTL
func (s *Server) prune() {
	now := s.now()

	s.mtx.RLock()
	var stale []string
	for id, sess := range s.sessions {
		if now.Sub(sess.Updated()) > s.opts.SessionTTL {
			stale = append(stale, id)
		}
	}
	s.mtx.RUnlock()

	for _, id := range stale {
		if s.observed(id) {
			continue
		}
		s.mtx.Lock()
		delete(s.sessions, id)
		s.mtx.Unlock()
		log.Printf("[session] %s expired", id)
	}
}

// Run drives the render loop until ctx is done
func (s *Server) Run(ctx context.Context) {
	t1 := time.NewTicker(s.opts.TickInterval)
	t2 := time.NewTicker(time.Minute)
	defer t1.Stop()
	defer t2.Stop()

	log.Printf("[session] render loop every %v", s.opts.TickInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t1.C:
			s.tickAll(ctx)
		case <-t2.C:
			s.prune()
		}
	}
}
