package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pinpoint.live/spatial"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	s := New(env.presence, env.admin, Options{
		Routes:   env.routes,
		External: spatial.NewExternalClient(time.Second, 0),
	})
	mux := http.NewServeMux()
	s.Register(mux)
	return s, mux, env
}

func do(mux *http.ServeMux, method, path, session, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session})
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestIndexSetsSessionCookie(t *testing.T) {
	_, mux, _ := newTestServer(t)

	rec := do(mux, "GET", "/", "", "", "")
	if rec.Code != 200 {
		t.Fatalf("GET / = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<title>Pinpoint</title>") {
		t.Errorf("page not served")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || len(cookies[0].Value) != 8 {
		t.Errorf("cookies = %+v, want one 8 char session", cookies)
	}

	// an existing session is kept
	rec = do(mux, "GET", "/", "abcd1234", "", "")
	if len(rec.Result().Cookies()) != 0 {
		t.Errorf("cookie reissued for existing session")
	}

	if rec := do(mux, "GET", "/nope", "", "", ""); rec.Code != 404 {
		t.Errorf("GET /nope = %d, want 404", rec.Code)
	}
}

func TestSampleThenView(t *testing.T) {
	_, mux, _ := newTestServer(t)

	rec := do(mux, "POST", "/api/sample", "abcd1234", "application/json",
		`{"lat": 17.3850, "lon": 78.4867, "accuracy": 8}`)
	if rec.Code != 200 {
		t.Fatalf("POST /api/sample = %d: %s", rec.Code, rec.Body)
	}

	rec = do(mux, "GET", "/api/view", "abcd1234", "", "")
	if rec.Code != 200 {
		t.Fatalf("GET /api/view = %d", rec.Code)
	}
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Panel.SessionID != "abcd1234" || v.Panel.Status != spatial.StatusVerified {
		t.Errorf("panel = %+v", v.Panel)
	}
	if len(v.Layers) != 8 {
		t.Errorf("got %d layers, want 8", len(v.Layers))
	}
}

func TestSampleRejected(t *testing.T) {
	_, mux, _ := newTestServer(t)

	tests := []struct {
		name        string
		contentType string
		body        string
		code        int
	}{
		{"form sample", "application/x-www-form-urlencoded", "lat=1&lon=2&accuracy=3", 200},
		{"browser error", "application/json", `{"error": "User denied Geolocation"}`, 200},
		{"out of range", "application/json", `{"lat": 100, "lon": 0}`, 400},
		{"missing lon", "application/json", `{"lat": 10}`, 400},
		{"bad json", "application/json", `{"lat":`, 400},
		{"form missing", "application/x-www-form-urlencoded", "lat=1", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(mux, "POST", "/api/sample", "abcd1234", tt.contentType, tt.body)
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.code, rec.Body)
			}
		})
	}

	if rec := do(mux, "GET", "/api/sample", "abcd1234", "", ""); rec.Code != 405 {
		t.Errorf("GET /api/sample = %d, want 405", rec.Code)
	}
}

func TestTargetHandlers(t *testing.T) {
	_, mux, _ := newTestServer(t)

	// the first session to tick becomes admin
	do(mux, "GET", "/api/view", "admin001", "", "")
	do(mux, "GET", "/api/view", "other002", "", "")

	tests := []struct {
		name    string
		session string
		body    string
		code    int
	}{
		{"non-admin forbidden", "other002", `{"lat": 1, "lon": 1}`, 403},
		{"invalid point", "admin001", `{"lat": 91, "lon": 1}`, 400},
		{"malformed", "admin001", `lat=1`, 400},
		{"admin sets", "admin001", `{"lat": 17.4, "lon": 78.5}`, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(mux, "POST", "/api/target", tt.session, "application/json", tt.body)
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.code, rec.Body)
			}
		})
	}

	rec := do(mux, "GET", "/api/target", "other002", "", "")
	var got struct {
		Target spatial.GeoPoint `json:"target"`
		Admin  bool             `json:"admin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Target != (spatial.GeoPoint{Lat: 17.4, Lon: 78.5}) || got.Admin {
		t.Errorf("GET /api/target = %+v", got)
	}
}

func TestUsersAndStats(t *testing.T) {
	_, mux, _ := newTestServer(t)

	do(mux, "POST", "/api/sample", "abcd1234", "application/json", `{"lat": 1, "lon": 2, "accuracy": 3}`)
	do(mux, "GET", "/api/view", "abcd1234", "", "")

	rec := do(mux, "GET", "/api/users", "", "", "")
	var users []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0]["id"] != "abcd1234" || users[0]["presence"] != "online" {
		t.Errorf("users = %v", users)
	}

	rec = do(mux, "GET", "/api/stats", "", "", "")
	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["sessions"] != 1.0 {
		t.Errorf("sessions = %v, want 1", stats["sessions"])
	}
	if _, ok := stats["route_cache"]; !ok {
		t.Errorf("route_cache missing from stats")
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	_, mux, _ := newTestServer(t)
	if rec := do(mux, "GET", "/ws", "", "", ""); rec.Code != 400 {
		t.Errorf("plain GET /ws = %d, want 400", rec.Code)
	}
}

func TestWebSocketStreamsViews(t *testing.T) {
	_, mux, _ := newTestServer(t)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	header := http.Header{}
	header.Set("Cookie", sessionCookieName+"=wsuser01")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"lat": 17.385, "lon": 78.4867, "accuracy": 4}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var v View
		if err := conn.ReadJSON(&v); err != nil {
			t.Fatalf("no view with a sample: %v", err)
		}
		if v.Panel.SessionID != "wsuser01" {
			t.Fatalf("view for %q", v.Panel.SessionID)
		}
		if v.Panel.HasSample {
			if v.Panel.Status != spatial.StatusVerified {
				t.Errorf("status = %s, want verified", v.Panel.Status)
			}
			return
		}
	}
}
