package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from client.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// check if the request is for websockets
func IsWebSocket(r *http.Request) bool {
	contains := func(key, val string) bool {
		vv := strings.Split(r.Header.Get(key), ",")
		for _, v := range vv {
			if val == strings.ToLower(strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	}

	return contains("Connection", "upgrade") && contains("Upgrade", "websocket")
}

// ServeWebSocket streams views of sess to the client and feeds the
// client's readings into the session mailbox
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request, sess *Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	o := NewObserver(sess.ID)
	s.Observe(o)
	defer close(o.Kill)

	st := stream{
		ctx:      r.Context(),
		conn:     conn,
		server:   s,
		session:  sess,
		observer: o,
	}

	log.Printf("[ws] %s connected", sess.ID)
	st.run()
	log.Printf("[ws] %s disconnected", sess.ID)
}

type stream struct {
	// request context
	ctx context.Context
	// the websocket connection.
	conn *websocket.Conn
	// the hub that ticks the session
	server *Server
	// the session being rendered
	session *Session
	// the observer receiving its views
	observer *Observer
}

func (s *stream) run() {
	defer s.conn.Close()

	// to cancel everything
	stopCtx, cancel := context.WithCancel(context.Background())

	wg := sync.WaitGroup{}
	wg.Add(2)

	go s.bufToClientLoop(cancel, &wg, stopCtx)
	go s.clientToServerLoop(cancel, &wg, stopCtx)

	// first frame right away instead of waiting for the next tick
	go s.server.Refresh(stopCtx, s.session)

	wg.Wait()
}

func (s *stream) clientToServerLoop(cancel context.CancelFunc, wg *sync.WaitGroup, stopCtx context.Context) {
	defer func() {
		cancel()
		wg.Done()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		select {
		case <-stopCtx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] %s read: %v", s.session.ID, err)
			}
			return
		}

		// any message from the client counts as activity
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var report SampleReport
		if err := json.Unmarshal(msg, &report); err != nil {
			log.Printf("[ws] %s bad message: %v", s.session.ID, err)
			continue
		}
		if err := s.session.Mailbox.Report(report); err != nil {
			log.Printf("[ws] %s %v", s.session.ID, err)
		} else if v := s.session.View(); v == nil || !v.Panel.HasSample {
			// first fix: don't leave the client grey until the next tick
			go s.server.Refresh(stopCtx, s.session)
		}
		s.session.Touch(time.Now())
	}
}

func (s *stream) bufToClientLoop(cancel context.CancelFunc, wg *sync.WaitGroup, stopCtx context.Context) {
	defer func() {
		s.conn.Close()
		cancel()
		wg.Done()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stopCtx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case view := <-s.observer.Events:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(view); err != nil {
				return
			}
		}
	}
}
