package spatial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ErrBackoff is returned while an API is cooling down after consecutive errors
var ErrBackoff = errors.New("backing off after errors")

// ExternalClient wraps http.Client with rate limiting, stats, and logging
type ExternalClient struct {
	client     *http.Client
	limiter    *APIRateLimiter
	stats      *SystemStats
	userAgent  string
	defaultAPI string // API name for stats if not specified in request
}

// NewExternalClient returns a client with the given timeout and minimum
// interval between calls to the same API
func NewExternalClient(timeout, minInterval time.Duration) *ExternalClient {
	return &ExternalClient{
		client:     &http.Client{Timeout: timeout},
		limiter:    NewRateLimiter(minInterval),
		stats:      NewStats(),
		userAgent:  "Pinpoint/1.0",
		defaultAPI: "http",
	}
}

// External is the shared client for outbound API calls
var External = NewExternalClient(10*time.Second, time.Second)

// Stats returns the per-API statistics
func (c *ExternalClient) Stats() *SystemStats {
	return c.stats
}

// APIRequest wraps an HTTP request with API metadata
type APIRequest struct {
	*http.Request
	APIName string // for stats tracking (e.g. "mapbox", "osrm")
}

// NewRequest creates a new API request with tracking
func (c *ExternalClient) NewRequest(ctx context.Context, apiName, method, url string) (*APIRequest, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return &APIRequest{Request: req, APIName: apiName}, nil
}

// Get is a convenience method for GET requests
func (c *ExternalClient) Get(ctx context.Context, apiName, url string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, apiName, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do executes the request with rate limiting and stats.
// Callers must close the body of a non-nil response.
func (c *ExternalClient) Do(req *APIRequest) (*http.Response, error) {
	apiName := req.APIName
	if apiName == "" {
		apiName = c.defaultAPI
	}

	// skip the call entirely while cooling down
	if backoff := c.stats.GetBackoffDuration(apiName); backoff > 0 {
		if last := c.stats.GetAPI(apiName).LastError; time.Since(last) < backoff {
			return nil, fmt.Errorf("%s: %w (%.0fs)", apiName, ErrBackoff, backoff.Seconds())
		}
	}

	if err := c.limiter.Wait(req.Context(), apiName); err != nil {
		return nil, err
	}

	c.stats.RecordCall(apiName)
	start := time.Now()

	resp, err := c.client.Do(req.Request)
	duration := time.Since(start)

	status := "err"
	if resp != nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	log.Printf("[http] %s %s %s %s (%dms)", apiName, req.Method, redactURL(req.URL.String()), status, duration.Milliseconds())

	if err != nil {
		c.stats.RecordError(apiName, err)
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.stats.RecordRateLimit(apiName)
		resp.Body.Close()
		return nil, fmt.Errorf("%s rate limited (429)", apiName)
	}

	if resp.StatusCode >= 400 {
		c.stats.RecordError(apiName, fmt.Errorf("HTTP %d", resp.StatusCode))
		// still return resp so caller can handle/read body
	} else {
		c.stats.RecordSuccess(apiName)
	}

	return resp, nil
}

// GetJSON returns the body bytes of a successful GET
func (c *ExternalClient) GetJSON(ctx context.Context, apiName, url string) ([]byte, error) {
	resp, err := c.Get(ctx, apiName, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", apiName, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// redactURL drops the query string, which may carry access tokens
func redactURL(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	if len(url) > 80 {
		return url[:77] + "..."
	}
	return url
}
