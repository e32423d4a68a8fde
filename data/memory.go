package data

import (
	"context"
	"log"
	"sync"
	"time"
)

// MemoryStore keeps the tree in process, optionally snapshotted to a JSON file
type MemoryStore struct {
	mu   sync.RWMutex
	root map[string]interface{}
	file string

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore returns a memory store, loading file if it exists.
// An empty file name disables snapshots.
func NewMemoryStore(file string) (*MemoryStore, error) {
	m := &MemoryStore{
		root: make(map[string]interface{}),
		file: file,
		stop: make(chan struct{}),
	}
	if file == "" {
		return m, nil
	}
	if err := loadJSON(file, &m.root); err != nil {
		return nil, err
	}
	if m.root == nil {
		m.root = make(map[string]interface{})
	}
	log.Printf("[store] memory store loaded from %s (%d keys)", file, len(m.root))
	return m, nil
}

func (m *MemoryStore) Get(ctx context.Context, path string) (interface{}, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(segs) == 0 {
		if len(m.root) == 0 {
			return nil, nil
		}
		return deepCopy(m.root), nil
	}
	return deepCopy(getIn(m.root, segs)), nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(segs) == 0 {
		root, ok := v.(map[string]interface{})
		if !ok && v != nil {
			return errRootNotObject
		}
		if root == nil {
			root = make(map[string]interface{})
		}
		m.root = root
		return nil
	}
	setIn(m.root, segs, v)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return errRootNotObject
	}
	v, err := normalize(fields)
	if err != nil {
		return err
	}
	f, _ := v.(map[string]interface{})

	m.mu.Lock()
	defer m.mu.Unlock()

	setIn(m.root, segs, merge(getIn(m.root, segs), f))
	return nil
}

func (m *MemoryStore) SetIfAbsent(ctx context.Context, path string, value interface{}) (bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if len(segs) == 0 {
		return false, errRootNotObject
	}
	v, err := normalize(value)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if getIn(m.root, segs) != nil {
		return false, nil
	}
	setIn(m.root, segs, v)
	return true, nil
}

// Save writes the snapshot file, if one is configured
func (m *MemoryStore) Save() error {
	if m.file == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return saveJSON(m.file, m.root)
}

// StartBackgroundSave starts periodic snapshots until Close
func (m *MemoryStore) StartBackgroundSave(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Save(); err != nil {
					log.Printf("[store] background save error: %v", err)
				}
			case <-m.stop:
				return
			}
		}
	}()
	log.Printf("[store] background save started (every %v)", interval)
}

// Close stops background saves and writes a final snapshot
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return m.Save()
}
