// Package docstore defines the hierarchical JSON document store the directory and
// the school databases live in, plus the path/tree helpers its backends share.
//
// Paths are slash separated ("usuarios/u1/escolas"). Writing null removes a
// node and empty parents are pruned, so a node either holds a value or does not exist.
package docstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("node not found")
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("store closed")
)

// maxKeyLen is the longest key a Realtime Database accepts (bytes).
const maxKeyLen = 768

// Store is a hierarchical JSON document store.
type Store interface {
	// Get decodes the node at path into v. ErrNotFound when the node does not exist.
	Get(ctx context.Context, path string, v interface{}) error
	// Set replaces the node at path with v. A nil v deletes the node.
	Set(ctx context.Context, path string, v interface{}) error
	// Delete removes the node at path. Deleting a missing node is not an error.
	Delete(ctx context.Context, path string) error
	Close() error
}

// ValidKey reports whether key can be used as a single path segment.
func ValidKey(key string) bool {
	if key == "" || len(key) > maxKeyLen {
		return false
	}
	return !strings.ContainsAny(key, ".$#[]/") && !strings.ContainsAny(key, "\x00\x7f")
}

// Split cleans path and returns its segments. The root path yields no segments.
func Split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, seg := range segs {
		if !ValidKey(seg) {
			return nil, errors.Wrapf(ErrInvalidPath, "%q", path)
		}
	}
	return segs, nil
}

// Join builds a path from segments.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

// Normalize converts v into its generic JSON form (maps, slices, float64, ...).
// A nil result means v encodes to null.
func Normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding value")
	}
	var out interface{}
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "normalizing value")
	}
	return prune(out), nil
}

// Decode converts a generic JSON value into v.
func Decode(node interface{}, v interface{}) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return errors.Wrap(err, "encoding node")
	}
	return errors.Wrap(json.Unmarshal(raw, v), "decoding node")
}

// Lookup walks tree along segs.
func Lookup(tree interface{}, segs []string) (interface{}, bool) {
	node := tree
	for _, seg := range segs {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if node, ok = m[seg]; !ok {
			return nil, false
		}
	}
	if node == nil {
		return nil, false
	}
	return node, true
}

// Put stores value (already normalized) at segs inside tree and returns the new tree.
// Intermediate nodes holding leaf values are replaced by objects; a nil value removes the node.
func Put(tree interface{}, segs []string, value interface{}) interface{} {
	if len(segs) == 0 {
		return value
	}
	m, ok := tree.(map[string]interface{})
	if !ok {
		if value == nil {
			return tree
		}
		m = make(map[string]interface{})
	}
	child := Put(m[segs[0]], segs[1:], value)
	if isEmpty(child) {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Remove deletes the node at segs and prunes emptied parents.
func Remove(tree interface{}, segs []string) interface{} {
	return Put(tree, segs, nil)
}

func isEmpty(node interface{}) bool {
	if node == nil {
		return true
	}
	if m, ok := node.(map[string]interface{}); ok {
		return len(m) == 0
	}
	return false
}

// prune drops null members and empty objects the way the realtime database does.
func prune(node interface{}) interface{} {
	m, ok := node.(map[string]interface{})
	if !ok {
		return node
	}
	for k, child := range m {
		child = prune(child)
		if isEmpty(child) {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
