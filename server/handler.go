package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pinpoint.live/data"
	"pinpoint.live/spatial"
)

// maxBodySize bounds JSON request bodies
const maxBodySize = 4096

// Register installs the dashboard routes on mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case "GET", "HEAD":
			getSessionToken(w, r)
			serveMapHTML(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 405)
		}
	})

	mux.HandleFunc("/ws", s.WebSocketHandler)

	mux.HandleFunc("/api/sample", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			s.PostSampleHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 405)
		}
	})

	mux.HandleFunc("/api/view", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			s.GetViewHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 405)
		}
	})

	mux.HandleFunc("/api/target", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			s.GetTargetHandler(w, r)
		case "POST":
			s.PostTargetHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 405)
		}
	})

	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			s.GetUsersHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 405)
		}
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			s.GetStatsHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 405)
		}
	})
}

// WebSocketHandler upgrades /ws and streams the caller's session
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if !IsWebSocket(r) {
		http.Error(w, "websocket required", 400)
		return
	}
	token := getSessionToken(w, r)
	s.ServeWebSocket(w, r, s.Session(token))
}

// PostSampleHandler accepts a reading as JSON or form values
func (s *Server) PostSampleHandler(w http.ResponseWriter, r *http.Request) {
	token := getSessionToken(w, r)
	sess := s.Session(token)

	report, err := readSampleReport(r)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	sess.Touch(s.now())
	if err := sess.Mailbox.Report(report); err != nil {
		if report.Error != "" {
			// a reported failure is accepted, it just yields no sample
			writeJSON(w, map[string]interface{}{"session": token, "sample": false})
			return
		}
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, map[string]interface{}{"session": token, "sample": true})
}

func readSampleReport(r *http.Request) (SampleReport, error) {
	var report SampleReport
	if isJSON(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&report); err != nil {
			return report, fmt.Errorf("invalid sample: %w", err)
		}
		return report, nil
	}

	r.ParseForm()
	if e := r.Form.Get("error"); e != "" {
		report.Error = e
		return report, nil
	}
	lat, err1 := strconv.ParseFloat(r.Form.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.Form.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		return report, errors.New("lat and lon are required")
	}
	report.Lat, report.Lon = &lat, &lon
	if acc, err := strconv.ParseFloat(r.Form.Get("accuracy"), 64); err == nil {
		report.Accuracy = acc
	}
	return report, nil
}

// GetViewHandler runs a tick for the caller and returns the view
func (s *Server) GetViewHandler(w http.ResponseWriter, r *http.Request) {
	token := getSessionToken(w, r)
	v := s.Refresh(r.Context(), s.Session(token))
	writeJSON(w, v)
}

func (s *Server) GetTargetHandler(w http.ResponseWriter, r *http.Request) {
	token := getSessionToken(w, r)
	ctx := r.Context()
	writeJSON(w, map[string]interface{}{
		"target": s.admin.Target(ctx),
		"admin":  s.admin.IsAdmin(ctx, token),
	})
}

// PostTargetHandler lets the admin move the target
func (s *Server) PostTargetHandler(w http.ResponseWriter, r *http.Request) {
	token := getSessionToken(w, r)

	var p spatial.GeoPoint
	if isJSON(r) {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&p); err != nil {
			http.Error(w, "invalid target: "+err.Error(), 400)
			return
		}
	} else {
		r.ParseForm()
		lat, err1 := strconv.ParseFloat(r.Form.Get("lat"), 64)
		lon, err2 := strconv.ParseFloat(r.Form.Get("lon"), 64)
		if err1 != nil || err2 != nil {
			http.Error(w, "lat and lon are required", 400)
			return
		}
		p = spatial.GeoPoint{Lat: lat, Lon: lon}
	}

	err := s.admin.SetTarget(r.Context(), token, p)
	switch {
	case errors.Is(err, data.ErrNotAdmin):
		http.Error(w, err.Error(), 403)
		return
	case errors.Is(err, data.ErrInvalidPoint):
		http.Error(w, err.Error(), 400)
		return
	case err != nil:
		http.Error(w, err.Error(), 500)
		return
	}

	// redraw the admin's own view with the new target
	if sess, ok := s.Lookup(token); ok {
		go s.Refresh(context.WithoutCancel(r.Context()), sess)
	}
	writeJSON(w, map[string]interface{}{"target": p, "admin": true})
}

func (s *Server) GetUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.presence.Snapshot(r.Context(), s.now())
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeJSON(w, users)
}

func (s *Server) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"sessions": s.Sessions(),
		"created":  s.Created,
	}
	if s.opts.External != nil {
		stats["apis"] = s.opts.External.Stats().List()
	}
	if s.opts.Routes != nil {
		stats["route_cache"] = s.opts.Routes.Cache().Stats()
	}
	writeJSON(w, stats)
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// SetHeaders adds the CORS headers for API callers
func SetHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func WithCors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetHeaders(w, r)

		// if options return immediately
		if r.Method == "OPTIONS" {
			return
		}

		h.ServeHTTP(w, r)
	})
}
