package data

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// nodeBackend stores JSON values in flat rows keyed by path. nodeStore keeps
// rows from nesting: a row never sits below another row.
type nodeBackend interface {
	// lookup returns the rows present among paths
	lookup(ctx context.Context, paths []string) (map[string]string, error)
	// descendants returns all rows strictly below prefix, or every row for ""
	descendants(ctx context.Context, prefix string) (map[string]string, error)
	put(ctx context.Context, path, value string) error
	// putIfAbsent writes the row only if no row has that path
	putIfAbsent(ctx context.Context, path, value string) (bool, error)
	remove(ctx context.Context, paths []string) error
	close() error
}

// nodeStore implements Store over a nodeBackend. Writes from this process
// are serialized; across processes only SetIfAbsent on a fresh path is atomic.
type nodeStore struct {
	mu sync.Mutex
	b  nodeBackend
}

func (s *nodeStore) Get(ctx context.Context, path string) (interface{}, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, segs)
}

func (s *nodeStore) get(ctx context.Context, segs []string) (interface{}, error) {
	if len(segs) > 0 {
		paths := append(ancestors(segs), joinPath(segs))
		rows, err := s.b.lookup(ctx, paths)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			raw, ok := rows[p]
			if !ok {
				continue
			}
			v, err := decodeValue(raw)
			if err != nil {
				return nil, err
			}
			rel := segs[len(strings.Split(p, "/")):]
			return getIn(v, rel), nil
		}
	}

	prefix := joinPath(segs)
	rows, err := s.b.descendants(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	root := make(map[string]interface{})
	for p, raw := range rows {
		v, err := decodeValue(raw)
		if err != nil {
			logErr("skip "+p, err)
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
		setIn(root, strings.Split(rel, "/"), v)
	}
	return root, nil
}

// ancestorRow returns the row holding segs, if segs lives inside one
func (s *nodeStore) ancestorRow(ctx context.Context, segs []string) (string, interface{}, error) {
	anc := ancestors(segs)
	if len(anc) == 0 {
		return "", nil, nil
	}
	rows, err := s.b.lookup(ctx, anc)
	if err != nil {
		return "", nil, err
	}
	for _, p := range anc {
		if raw, ok := rows[p]; ok {
			v, err := decodeValue(raw)
			return p, v, err
		}
	}
	return "", nil, nil
}

func (s *nodeStore) Set(ctx context.Context, path string, value interface{}) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(ctx, segs, v)
}

func (s *nodeStore) set(ctx context.Context, segs []string, v interface{}) error {
	if len(segs) == 0 {
		return s.setRoot(ctx, v)
	}

	// writing inside an existing row rewrites that row
	ancPath, ancValue, err := s.ancestorRow(ctx, segs)
	if err != nil {
		return err
	}
	if ancPath != "" {
		root, ok := ancValue.(map[string]interface{})
		if !ok {
			root = make(map[string]interface{})
		}
		rel := segs[len(strings.Split(ancPath, "/")):]
		setIn(root, rel, v)
		raw, err := encodeValue(root)
		if err != nil {
			return err
		}
		return s.b.put(ctx, ancPath, raw)
	}

	path := joinPath(segs)
	desc, err := s.b.descendants(ctx, path)
	if err != nil {
		return err
	}
	stale := []string{path}
	for p := range desc {
		stale = append(stale, p)
	}
	sort.Strings(stale)
	if err := s.b.remove(ctx, stale); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	raw, err := encodeValue(v)
	if err != nil {
		return err
	}
	return s.b.put(ctx, path, raw)
}

// setRoot stores each top level key as its own row
func (s *nodeStore) setRoot(ctx context.Context, v interface{}) error {
	root, ok := v.(map[string]interface{})
	if !ok && v != nil {
		return errRootNotObject
	}
	all, err := s.b.descendants(ctx, "")
	if err != nil {
		return err
	}
	var stale []string
	for p := range all {
		stale = append(stale, p)
	}
	if err := s.b.remove(ctx, stale); err != nil {
		return err
	}
	for k, child := range root {
		raw, err := encodeValue(child)
		if err != nil {
			return err
		}
		if err := s.b.put(ctx, k, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *nodeStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.get(ctx, segs)
	if err != nil {
		return err
	}
	return s.set(ctx, segs, merge(cur, f))
}

func (s *nodeStore) SetIfAbsent(ctx context.Context, path string, value interface{}) (bool, error) {
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
	if v == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.get(ctx, segs)
	if err != nil {
		return false, err
	}
	if cur != nil {
		return false, nil
	}

	ancPath, _, err := s.ancestorRow(ctx, segs)
	if err != nil {
		return false, err
	}
	if ancPath != "" {
		// nested inside another row: no conditional write available
		return true, s.set(ctx, segs, v)
	}

	raw, err := encodeValue(v)
	if err != nil {
		return false, err
	}
	return s.b.putIfAbsent(ctx, joinPath(segs), raw)
}

func (s *nodeStore) Close() error {
	return s.b.close()
}
