package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errNoWildcardMatch = errors.New("no matching elements for wildcard path")

// Jq resolves a dotted path into a claims-style map, in the spirit of the
// jq CLI: "realm_access.roles[0]" indexes into arrays, "[*]" (or "[]") fans
// out over every array element and collects the matches. Used to pull a
// caller role out of verified token claims.
func Jq(input map[string]any, path string) (any, error) {
	if input == nil || path == "" {
		return nil, errors.New("empty input or path")
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return walk(input, segs)
}

type pathSegment struct {
	key   string
	index string
	fan   bool
}

func splitPath(path string) ([]pathSegment, error) {
	path = strings.TrimPrefix(path, ".")
	parts := strings.Split(path, ".")
	segs := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		seg := pathSegment{key: part}
		if open := strings.IndexByte(part, '['); open >= 0 {
			closing := strings.IndexByte(part, ']')
			if closing < open {
				return nil, fmt.Errorf("malformed index in segment %q", part)
			}
			seg.key = part[:open]
			seg.index = part[open+1 : closing]
			seg.fan = seg.index == "*" || seg.index == ""
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func walk(current any, segs []pathSegment) (any, error) {
	for i, seg := range segs {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: not an object", seg.key)
		}
		value, ok := m[seg.key]
		if !ok {
			return nil, fmt.Errorf("key %q not found", seg.key)
		}
		if seg.index == "" && !seg.fan {
			current = value
			continue
		}

		array, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("key %q: not an array", seg.key)
		}
		if seg.fan {
			return fanOut(array, segs[i+1:])
		}
		n, err := strconv.Atoi(seg.index)
		if err != nil || n < 0 || n >= len(array) {
			return nil, fmt.Errorf("key %q: invalid index %q", seg.key, seg.index)
		}
		current = array[n]
	}
	return current, nil
}

// fanOut resolves the remaining path against every array element, skipping
// elements that do not match and flattening nested array results.
func fanOut(array []any, rest []pathSegment) (any, error) {
	if len(rest) == 0 {
		return array, nil
	}
	results := make([]any, 0, len(array))
	for _, item := range array {
		value, err := walk(item, rest)
		if err != nil {
			continue
		}
		if list, ok := value.([]any); ok {
			results = append(results, list...)
		} else {
			results = append(results, value)
		}
	}
	if len(results) == 0 {
		return nil, errNoWildcardMatch
	}
	return results, nil
}
