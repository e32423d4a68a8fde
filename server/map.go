package server

import (
	_ "embed"
	"net/http"
	"time"

	"pinpoint.live/data"
	"pinpoint.live/spatial"
)

//go:embed map.html
var mapHTML []byte

func serveMapHTML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(mapHTML)
}

const (
	// ViewZoom is the map zoom level centred on the session
	ViewZoom = 18

	radarStep     = 3.0
	radarCycle    = 20
	targetGlowR   = 20.0
	userRadius    = 6.0
	targetIconURL = "https://cdn-icons-png.flaticon.com/512/684/684908.png"
)

// layer colors, RGBA
var (
	radarColor      = []int{0, 255, 255, 50}
	targetGlowColor = []int{255, 0, 0, 30}
	routeColor      = []int{0, 255, 255, 200}
	trailColor      = []int{255, 140, 0, 255}
	labelColor      = []int{255, 255, 0, 255}
)

// View is everything the browser needs to draw one frame
type View struct {
	Tick     int                `json:"tick"`
	Time     time.Time          `json:"time"`
	Viewport Viewport           `json:"viewport"`
	Panel    Panel              `json:"panel"`
	Layers   []Layer            `json:"layers"`
	Users    []data.UserStatus  `json:"users"`
	Route    []spatial.GeoPoint `json:"route"`
}

type Viewport struct {
	Center spatial.GeoPoint `json:"center"`
	Zoom   float64          `json:"zoom"`
}

// Panel is the status sidebar
type Panel struct {
	SessionID   string           `json:"session_id"`
	Admin       bool             `json:"admin"`
	HasSample   bool             `json:"has_sample"`
	Accuracy    float64          `json:"accuracy"`
	Distance    float64          `json:"distance"`
	Tolerance   float64          `json:"tolerance"`
	Status      spatial.Status   `json:"status"`
	Color       []int            `json:"color"`
	Position    spatial.GeoPoint `json:"position"`
	Target      spatial.GeoPoint `json:"target"`
	UsersOnline int              `json:"users_online"`
	Error       string           `json:"error,omitempty"`
}

// Layer is a named set of features drawn together
type Layer struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"` // scatter, icon, path, heatmap, text
	Features []Feature `json:"features"`
}

// Feature is one drawable item. Positions are [lon, lat].
type Feature struct {
	Position []float64   `json:"position,omitempty"`
	Path     [][]float64 `json:"path,omitempty"`
	Radius   float64     `json:"radius,omitempty"`
	Color    []int       `json:"color,omitempty"`
	Text     string      `json:"text,omitempty"`
	Icon     string      `json:"icon,omitempty"`
}

// frame is the per-tick state a view is composed from
type frame struct {
	sessionID string
	tick      int
	now       time.Time
	admin     bool
	hasSample bool
	position  spatial.GeoPoint
	accuracy  float64
	check     spatial.Verification
	status    spatial.Status
	target    spatial.GeoPoint
	track     spatial.Track
	route     []spatial.GeoPoint
	users     []data.UserStatus
	err       string
}

// radarRadius pulses the accuracy ring with the tick counter
func radarRadius(tick int, accuracy float64) float64 {
	return float64(tick%radarCycle)*radarStep + accuracy
}

func compose(f frame) *View {
	users := f.users
	if users == nil {
		users = []data.UserStatus{}
	}
	route := f.route
	if route == nil {
		route = []spatial.GeoPoint{}
	}

	online := 0
	var heat, scatter, labels []Feature
	for _, u := range users {
		alpha := 80
		if u.Presence == data.Online {
			alpha = 255
			online++
		}
		pos := u.Point.LonLat()
		heat = append(heat, Feature{Position: pos})
		scatter = append(scatter, Feature{Position: pos, Radius: userRadius, Color: []int{255, 0, 255, alpha}})
		labels = append(labels, Feature{Position: pos, Text: u.ID, Color: labelColor})
	}

	var routeFeatures []Feature
	if len(route) > 0 {
		path := make([][]float64, len(route))
		for i, p := range route {
			path[i] = p.LonLat()
		}
		routeFeatures = []Feature{{Path: path, Color: routeColor}}
	}

	var trailFeatures []Feature
	if len(f.track.Trail) > 0 {
		trailFeatures = []Feature{{Path: f.track.Path(), Color: trailColor}}
	}

	layers := []Layer{
		{ID: "radar", Kind: "scatter", Features: []Feature{{
			Position: f.position.LonLat(),
			Radius:   radarRadius(f.tick, f.accuracy),
			Color:    radarColor,
		}}},
		{ID: "target-glow", Kind: "scatter", Features: []Feature{{
			Position: f.target.LonLat(),
			Radius:   targetGlowR,
			Color:    targetGlowColor,
		}}},
		{ID: "target-icon", Kind: "icon", Features: []Feature{{
			Position: f.target.LonLat(),
			Icon:     targetIconURL,
		}}},
		{ID: "route", Kind: "path", Features: routeFeatures},
		{ID: "trail", Kind: "path", Features: trailFeatures},
		{ID: "heatmap", Kind: "heatmap", Features: heat},
		{ID: "users", Kind: "scatter", Features: scatter},
		{ID: "labels", Kind: "text", Features: labels},
	}
	for i := range layers {
		if layers[i].Features == nil {
			layers[i].Features = []Feature{}
		}
	}

	return &View{
		Tick:     f.tick,
		Time:     f.now,
		Viewport: Viewport{Center: f.position, Zoom: ViewZoom},
		Panel: Panel{
			SessionID:   f.sessionID,
			Admin:       f.admin,
			HasSample:   f.hasSample,
			Accuracy:    f.accuracy,
			Distance:    f.check.Distance,
			Tolerance:   f.check.Tolerance,
			Status:      f.status,
			Color:       f.status.Color(),
			Position:    f.position,
			Target:      f.target,
			UsersOnline: online,
			Error:       f.err,
		},
		Layers: layers,
		Users:  users,
		Route:  route,
	}
}

// Layer returns the layer with the given id, or nil
func (v *View) Layer(id string) *Layer {
	for i := range v.Layers {
		if v.Layers[i].ID == id {
			return &v.Layers[i]
		}
	}
	return nil
}
