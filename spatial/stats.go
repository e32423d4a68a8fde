package spatial

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// APIStats tracks statistics for an API endpoint
type APIStats struct {
	Name          string    `json:"name"`
	Calls         int64     `json:"calls"`
	Successes     int64     `json:"successes"`
	Errors        int64     `json:"errors"`
	RateLimitHits int64     `json:"rate_limit_hits"`
	LastCall      time.Time `json:"last_call"`
	LastSuccess   time.Time `json:"last_success"`
	LastError     time.Time `json:"last_error"`
	LastErrorMsg  string    `json:"last_error_msg,omitempty"`
	ConsecErrors  int       `json:"consec_errors"` // for backoff
}

// CacheStats tracks route cache hits and misses
type CacheStats struct {
	mu     sync.RWMutex
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (c *CacheStats) RecordHit() {
	c.mu.Lock()
	c.Hits++
	c.mu.Unlock()
}

func (c *CacheStats) RecordMiss() {
	c.mu.Lock()
	c.Misses++
	c.mu.Unlock()
}

// Snapshot returns hits, misses and the hit rate in percent
func (c *CacheStats) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.Hits + c.Misses
	rate := float64(0)
	if total > 0 {
		rate = float64(c.Hits) / float64(total) * 100
	}
	return map[string]interface{}{
		"hits":    c.Hits,
		"misses":  c.Misses,
		"hit_pct": rate,
	}
}

// SystemStats tracks per-API statistics for an ExternalClient
type SystemStats struct {
	mu        sync.RWMutex
	APIs      map[string]*APIStats
	StartTime time.Time
}

// NewStats returns an empty stats registry
func NewStats() *SystemStats {
	return &SystemStats{
		APIs:      make(map[string]*APIStats),
		StartTime: time.Now(),
	}
}

// getOrCreateAPI returns stats for an API, creating if needed (caller must hold lock)
func (s *SystemStats) getOrCreateAPI(name string) *APIStats {
	if api, ok := s.APIs[name]; ok {
		return api
	}
	api := &APIStats{Name: name}
	s.APIs[name] = api
	return api
}

// GetAPI returns a copy of the stats for an API
func (s *SystemStats) GetAPI(name string) APIStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateAPI(name)
}

// List returns a copy of all API stats sorted by name
func (s *SystemStats) List() []APIStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]APIStats, 0, len(s.APIs))
	for _, api := range s.APIs {
		list = append(list, *api)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (s *SystemStats) RecordCall(name string) {
	s.mu.Lock()
	api := s.getOrCreateAPI(name)
	api.Calls++
	api.LastCall = time.Now()
	s.mu.Unlock()
}

func (s *SystemStats) RecordSuccess(name string) {
	s.mu.Lock()
	api := s.getOrCreateAPI(name)
	api.Successes++
	api.LastSuccess = time.Now()
	api.ConsecErrors = 0
	s.mu.Unlock()
}

func (s *SystemStats) RecordError(name string, err error) {
	s.mu.Lock()
	api := s.getOrCreateAPI(name)
	api.Errors++
	api.LastError = time.Now()
	api.LastErrorMsg = err.Error()
	api.ConsecErrors++
	s.mu.Unlock()
}

func (s *SystemStats) RecordRateLimit(name string) {
	s.mu.Lock()
	api := s.getOrCreateAPI(name)
	api.RateLimitHits++
	api.LastError = time.Now()
	api.LastErrorMsg = "rate limited"
	api.ConsecErrors++
	s.mu.Unlock()
}

// GetBackoffDuration returns how long to wait based on consecutive errors
func (s *SystemStats) GetBackoffDuration(name string) time.Duration {
	s.mu.RLock()
	api := s.APIs[name]
	var consecErrors int
	if api != nil {
		consecErrors = api.ConsecErrors
	}
	s.mu.RUnlock()

	if consecErrors == 0 {
		return 0
	}

	// Exponential backoff: 1s, 2s, 4s ... max 60s
	if consecErrors > 7 {
		return 60 * time.Second
	}
	backoff := time.Duration(1<<uint(consecErrors-1)) * time.Second
	if backoff > 60*time.Second {
		backoff = 60 * time.Second
	}
	return backoff
}

// Summary returns a formatted summary of all API stats
func (s *SystemStats) Summary() string {
	list := s.List()

	var b strings.Builder
	fmt.Fprintf(&b, "uptime %s\n", formatDuration(time.Since(s.StartTime)))

	for _, api := range list {
		successRate := float64(0)
		if api.Calls > 0 {
			successRate = float64(api.Successes) / float64(api.Calls) * 100
		}
		fmt.Fprintf(&b, "%s: %d calls (%.1f%% success)", api.Name, api.Calls, successRate)
		if api.Errors > 0 {
			fmt.Fprintf(&b, ", %d errors", api.Errors)
		}
		if api.LastErrorMsg != "" {
			fmt.Fprintf(&b, ", last error: %s", truncate(api.LastErrorMsg, 50))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
