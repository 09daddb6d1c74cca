package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Flatten marshals value and decomposes it into scalar leaves keyed by
// path relative to the write root. A scalar value yields a single leaf
// under the empty key. ServerTimestamp sentinels are resolved against now.
// Backends share this so every implementation agrees on the wire shape.
func Flatten(value any, now time.Time) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	leaves := make(map[string]json.RawMessage)
	if err := flattenInto(leaves, "", decoded, now); err != nil {
		return nil, err
	}
	return leaves, nil
}

func flattenInto(leaves map[string]json.RawMessage, prefix string, v any, now time.Time) error {
	obj, ok := v.(map[string]any)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal leaf %q: %w", prefix, err)
		}
		leaves[prefix] = raw
		return nil
	}

	if sv, ok := obj[".sv"]; ok && len(obj) == 1 && sv == "timestamp" {
		raw, _ := json.Marshal(now.UnixMilli())
		leaves[prefix] = raw
		return nil
	}

	for key, child := range obj {
		if key == "" || strings.Contains(key, "/") {
			return fmt.Errorf("invalid leaf key %q under %q", key, prefix)
		}
		childPath := key
		if prefix != "" {
			childPath = prefix + "/" + key
		}
		if err := flattenInto(leaves, childPath, child, now); err != nil {
			return err
		}
	}
	return nil
}

// Assemble is the inverse of Flatten: it nests leaves keyed by relative
// path back into a JSON document. An empty map yields nil.
func Assemble(leaves map[string]json.RawMessage) (json.RawMessage, error) {
	if len(leaves) == 0 {
		return nil, nil
	}
	if raw, ok := leaves[""]; ok {
		if len(leaves) != 1 {
			return nil, fmt.Errorf("scalar leaf mixed with children")
		}
		return raw, nil
	}

	root := make(map[string]any)
	for path, raw := range leaves {
		segments := strings.Split(path, "/")
		node := root
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg]
			if !ok {
				next := make(map[string]any)
				node[seg] = next
				node = next
				continue
			}
			next, ok := child.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("leaf %q shadowed by branch", path)
			}
			node = next
		}
		node[segments[len(segments)-1]] = raw
	}

	assembled, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("assemble tree: %w", err)
	}
	return assembled, nil
}

// Related reports whether a change at changed is visible from a
// subscription rooted at watched: one path is the other or an ancestor.
func Related(watched, changed string) bool {
	return watched == changed ||
		strings.HasPrefix(changed, watched+"/") ||
		strings.HasPrefix(watched, changed+"/")
}
