package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errRootNotObject = errors.New("root must be written as an object")

// splitPath turns "users/abc" into ["users", "abc"].
// The empty path addresses the root.
func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("invalid path %q", path)
		}
	}
	return segs, nil
}

func joinPath(segs []string) string {
	return strings.Join(segs, "/")
}

// ancestors returns the proper ancestors of a path, shortest first
func ancestors(segs []string) []string {
	var out []string
	for i := 1; i < len(segs); i++ {
		out = append(out, joinPath(segs[:i]))
	}
	return out
}

// normalize converts any value to its JSON tree form:
// map[string]interface{}, []interface{}, float64, string, bool or nil
func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON encodable: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeValue(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeValue(s string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("corrupt value: %w", err)
	}
	return v, nil
}

// getIn walks segs from node and returns what it finds, or nil
func getIn(node interface{}, segs []string) interface{} {
	for _, s := range segs {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node, ok = m[s]
		if !ok {
			return nil
		}
	}
	return node
}

// setIn writes v at segs below root, creating intermediate nodes and
// replacing scalars in the way. A nil v deletes the node.
func setIn(root map[string]interface{}, segs []string, v interface{}) {
	if len(segs) == 0 {
		return
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]interface{})
		if !ok {
			if v == nil {
				return
			}
			child = make(map[string]interface{})
			node[s] = child
		}
		node = child
	}
	last := segs[len(segs)-1]
	if v == nil {
		delete(node, last)
		return
	}
	node[last] = v
}

// merge shallow-merges fields into existing, which is replaced when it is
// not an object
func merge(existing interface{}, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	if m, ok := existing.(map[string]interface{}); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// deepCopy returns an independent copy of a JSON tree
func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, c := range t {
			m[k] = deepCopy(c)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, c := range t {
			s[i] = deepCopy(c)
		}
		return s
	default:
		return v
	}
}
