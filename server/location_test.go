package server

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }

func TestSampleReport(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		report  SampleReport
		wantErr bool
		wantAcc float64
	}{
		{"valid", SampleReport{Lat: f64(17.385), Lon: f64(78.4867), Accuracy: 8}, false, 8},
		{"zero point is valid", SampleReport{Lat: f64(0), Lon: f64(0)}, false, 0},
		{"negative accuracy clamps", SampleReport{Lat: f64(1), Lon: f64(1), Accuracy: -5}, false, 0},
		{"NaN accuracy clamps", SampleReport{Lat: f64(1), Lon: f64(1), Accuracy: math.NaN()}, false, 0},
		{"browser error", SampleReport{Error: "denied"}, true, 0},
		{"missing lat", SampleReport{Lon: f64(1)}, true, 0},
		{"lat out of range", SampleReport{Lat: f64(-91), Lon: f64(1)}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.report.Sample(now)
			if tt.wantErr {
				if !errors.Is(err, ErrNoSample) {
					t.Errorf("err = %v, want ErrNoSample", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if s.Accuracy != tt.wantAcc || !s.Time.Equal(now) {
				t.Errorf("sample = %+v", s)
			}
		})
	}
}

func TestMailbox(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	m := NewMailbox(20 * time.Second)
	m.now = func() time.Time { return now }

	if _, err := m.Locate(ctx); !errors.Is(err, ErrNoSample) {
		t.Errorf("empty mailbox err = %v", err)
	}

	if err := m.Report(SampleReport{Lat: f64(1), Lon: f64(2), Accuracy: 3}); err != nil {
		t.Fatal(err)
	}
	s, err := m.Locate(ctx)
	if err != nil || s.Point.Lat != 1 || s.Point.Lon != 2 {
		t.Fatalf("Locate = %+v, %v", s, err)
	}

	// still usable on the next tick
	if _, err := m.Locate(ctx); err != nil {
		t.Errorf("second Locate: %v", err)
	}

	// stale after maxAge
	now = now.Add(21 * time.Second)
	if _, err := m.Locate(ctx); !errors.Is(err, ErrNoSample) {
		t.Errorf("stale reading err = %v", err)
	}

	// a failure clears the reading
	m.Report(SampleReport{Lat: f64(1), Lon: f64(2)})
	m.Report(SampleReport{Error: "position unavailable"})
	if _, err := m.Locate(ctx); !errors.Is(err, ErrNoSample) {
		t.Errorf("after failure err = %v", err)
	}
}

func TestValidSessionID(t *testing.T) {
	tests := map[string]bool{
		"abcd1234":  true,
		"ABC-123":   true,
		"":          false,
		"a b":       false,
		"<script>":  false,
		"../../etc": false,
		"x/y":       false,

		"0123456789abcdef0123456789abcdef01234": false,
	}
	for id, want := range tests {
		if got := validSessionID(id); got != want {
			t.Errorf("validSessionID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if len(a) != 8 || a == b || !validSessionID(a) {
		t.Errorf("NewSessionID() = %q, %q", a, b)
	}
}
