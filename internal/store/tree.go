package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const emptyArrayLeaf = "[]"

// NormalizePath trims surrounding slashes and validates every segment
func NormalizePath(path string) (string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", &Error{Code: CodeInvalidPath, Message: "path must not be empty"}
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if err := validateKey(segment); err != nil {
			return "", err
		}
	}
	return trimmed, nil
}

// JoinPath joins path segments with slashes
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

func validateKey(key string) error {
	if key == "" {
		return &Error{Code: CodeInvalidPath, Message: "empty path segment"}
	}
	if strings.ContainsAny(key, ".#$[]") {
		return &Error{Code: CodeInvalidPath, Message: fmt.Sprintf("invalid character in key %q", key)}
	}
	return nil
}

// within reports whether path equals prefix or lies below it
func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// overlaps reports whether a write at one path affects a reader of the other
func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}

// ancestors returns every proper ancestor of path, outermost first
func ancestors(path string) []string {
	segments := strings.Split(path, "/")
	result := make([]string, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		result = append(result, strings.Join(segments[:i], "/"))
	}
	return result
}

// normalizeValue turns any JSON-encodable value into plain maps, slices and
// json.Number scalars.
func normalizeValue(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value is not encodable: %w", err)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isServerTimestamp(v any) bool {
	m, ok := v.(map[string]any)
	return ok && len(m) == 1 && m[".sv"] == "timestamp"
}

// flatten encodes value stored at base into leaves keyed by absolute path.
// Leaf values are JSON text.
func flatten(base string, value any, nowMillis int64) (map[string]string, error) {
	normalized, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}
	leaves := make(map[string]string)
	if err := flattenInto(leaves, base, normalized, nowMillis); err != nil {
		return nil, err
	}
	return leaves, nil
}

func flattenInto(leaves map[string]string, path string, value any, nowMillis int64) error {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		if isServerTimestamp(v) {
			leaves[path] = strconv.FormatInt(nowMillis, 10)
			return nil
		}
		for key, child := range v {
			if err := validateKey(key); err != nil {
				return err
			}
			if err := flattenInto(leaves, JoinPath(path, key), child, nowMillis); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if len(v) == 0 {
			leaves[path] = emptyArrayLeaf
			return nil
		}
		for i, child := range v {
			if err := flattenInto(leaves, JoinPath(path, strconv.Itoa(i)), child, nowMillis); err != nil {
				return err
			}
		}
		return nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		leaves[path] = string(data)
		return nil
	}
}

// unflatten rebuilds the value at base from the leaves at or below it
func unflatten(base string, leaves map[string]string) (any, error) {
	if raw, ok := leaves[base]; ok {
		return decodeJSON([]byte(raw))
	}

	var root map[string]any
	for path, raw := range leaves {
		if !strings.HasPrefix(path, base+"/") {
			continue
		}
		leaf, err := decodeJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("corrupt leaf at %s: %w", path, err)
		}
		if root == nil {
			root = make(map[string]any)
		}
		segments := strings.Split(strings.TrimPrefix(path, base+"/"), "/")
		node := root
		for _, segment := range segments[:len(segments)-1] {
			next, ok := node[segment].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[segment] = next
			}
			node = next
		}
		node[segments[len(segments)-1]] = leaf
	}

	if root == nil {
		return nil, nil
	}
	return arrayify(root), nil
}

// arrayify converts objects keyed 0..n-1 into arrays
func arrayify(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	for key, child := range m {
		m[key] = arrayify(child)
	}
	for i := 0; i < len(m); i++ {
		if _, ok := m[strconv.Itoa(i)]; !ok {
			return m
		}
	}
	arr := make([]any, len(m))
	for i := range arr {
		arr[i] = m[strconv.Itoa(i)]
	}
	return arr
}

// leafValue encodes a scalar the way flatten stores it
func leafValue(value any) (string, error) {
	normalized, err := normalizeValue(value)
	if err != nil {
		return "", err
	}
	switch normalized.(type) {
	case map[string]any, []any, nil:
		return "", fmt.Errorf("only scalar values can be matched")
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// childKey extracts the child key from a leaf path parent/key/childPath
func childKey(path, parent, childPath string) (string, bool) {
	if !strings.HasPrefix(path, parent+"/") || !strings.HasSuffix(path, "/"+childPath) {
		return "", false
	}
	key := strings.TrimSuffix(strings.TrimPrefix(path, parent+"/"), "/"+childPath)
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// firstKey returns the smallest key in keys
func firstKey(keys []string) (string, bool) {
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)
	return keys[0], true
}

// prepareUpdate validates the update set and returns the normalized paths in
// sorted order.
func prepareUpdate(updates map[string]any) ([]string, map[string]any, error) {
	paths := make([]string, 0, len(updates))
	normalized := make(map[string]any, len(updates))
	for raw, value := range updates {
		path, err := NormalizePath(raw)
		if err != nil {
			return nil, nil, err
		}
		paths = append(paths, path)
		normalized[path] = value
	}
	sort.Strings(paths)
	for i := 1; i < len(paths); i++ {
		if overlaps(paths[i-1], paths[i]) {
			return nil, nil, &Error{
				Code:    CodeInvalidPath,
				Message: fmt.Sprintf("update paths %q and %q overlap", paths[i-1], paths[i]),
			}
		}
	}
	return paths, normalized, nil
}
