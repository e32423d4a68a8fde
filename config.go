package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"pinpoint.live/data"
	"pinpoint.live/spatial"
)

// Config represents the application configuration
type Config struct {
	Listen    string            `yaml:"listen"`
	PublicURL string            `yaml:"public_url,omitempty"`
	ShowQR    bool              `yaml:"show_qr"`
	Store     data.StoreConfig  `yaml:"store"`
	Routing   RoutingConfig     `yaml:"routing"`
	Target    *spatial.GeoPoint `yaml:"target,omitempty"`
	Loop      LoopConfig        `yaml:"loop"`
}

// RoutingConfig selects the directions service
type RoutingConfig struct {
	Provider string        `yaml:"provider"` // mapbox, osrm, none
	Token    string        `yaml:"token,omitempty"`
	BaseURL  string        `yaml:"base_url,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoopConfig tunes the render loop and presence
type LoopConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	OnlineWindow time.Duration `yaml:"online_window"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

// DefaultConfig is used for anything the file and flags leave unset
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8080",
		Store: data.StoreConfig{
			Backend:      "memory",
			SaveInterval: time.Minute,
		},
		Routing: RoutingConfig{
			TTL:     spatial.DefaultRouteTTL,
			Timeout: spatial.RouteTimeout,
		},
		Loop: LoopConfig{
			TickInterval: 10 * time.Second,
			OnlineWindow: data.OnlineWindow,
			SessionTTL:   10 * time.Minute,
		},
	}
}

// DefaultConfigPath returns the default config file path following XDG conventions
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "pinpoint", "config.yaml")
}

// LoadConfig reads path over the defaults.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values a typo could make nonsensical
func (c *Config) Validate() error {
	if c.Target != nil && !c.Target.Valid() {
		return fmt.Errorf("target %s out of range", c.Target)
	}
	switch c.Routing.Provider {
	case "", "mapbox", "osrm", "none":
	default:
		return fmt.Errorf("unknown routing provider %q", c.Routing.Provider)
	}
	switch c.Store.Backend {
	case "", "memory", "sqlite", "dynamodb":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Loop.TickInterval < 0 || c.Loop.OnlineWindow < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// ApplyEnv fills secrets from the environment
func (c *Config) ApplyEnv() {
	if c.Routing.Token == "" {
		c.Routing.Token = os.Getenv("MAPBOX_API_KEY")
	}
}

// DefaultTarget returns the configured target or the built in one
func (c *Config) DefaultTarget() spatial.GeoPoint {
	if c.Target != nil {
		return *c.Target
	}
	return data.DefaultTarget
}

// Router builds the configured directions client, nil for none.
// Without an explicit provider, Mapbox is used when a token is set and
// the public OSRM server otherwise.
func (c *Config) Router(client *spatial.ExternalClient) spatial.Router {
	provider := c.Routing.Provider
	if provider == "" {
		provider = "osrm"
		if c.Routing.Token != "" {
			provider = "mapbox"
		}
	}

	switch provider {
	case "mapbox":
		r := spatial.NewMapboxRouter(client, c.Routing.Token)
		if c.Routing.BaseURL != "" {
			r.BaseURL = c.Routing.BaseURL
		}
		return r
	case "osrm":
		r := spatial.NewOSRMRouter(client)
		if c.Routing.BaseURL != "" {
			r.BaseURL = c.Routing.BaseURL
		}
		return r
	default:
		return nil
	}
}
