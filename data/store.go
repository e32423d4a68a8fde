// Package data holds the shared state every session sees: the presence
// records of all users, the admin claim and the target location.
//
// State lives in a path-addressed JSON tree behind the Store interface:
//
//	admin        session id of the admin (string)
//	target       {lat, lon}
//	users/{id}   {lat, lon, ts}
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Store is a shared key-value tree addressed by slash separated paths.
// Values are JSON-like: objects, strings, numbers and booleans.
type Store interface {
	// Get returns the value at path, or nil if there is none
	Get(ctx context.Context, path string) (interface{}, error)
	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path string, value interface{}) error
	// Update merges fields into the object at path
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// SetIfAbsent writes value only if path holds nothing and reports
	// whether it did
	SetIfAbsent(ctx context.Context, path string, value interface{}) (bool, error)
	Close() error
}

// StoreConfig selects and configures a Store backend
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite, dynamodb

	// memory: optional snapshot file; sqlite: database file
	Path string `yaml:"path"`

	// dynamodb
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// how often the memory backend writes its snapshot
	SaveInterval time.Duration `yaml:"save_interval"`
}

// Open returns the backend named in cfg
func Open(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		m, err := NewMemoryStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Path != "" && cfg.SaveInterval > 0 {
			m.StartBackgroundSave(cfg.SaveInterval)
		}
		return m, nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "dynamodb":
		return OpenDynamo(ctx, cfg.Region, cfg.Endpoint, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

//
// JSON helpers
//

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// saveJSON writes through a temp file so a crash never leaves half a snapshot
func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func logErr(op string, err error) {
	if err != nil {
		log.Printf("[store] %s: %v", op, err)
	}
}
