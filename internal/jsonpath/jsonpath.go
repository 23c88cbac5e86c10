// Package jsonpath queries JSON documents with a small JSONPath subset:
// $, dotted names, bracketed names and array indexes, e.g.
// $.latency.best[0] or $['latency']['q0_99'].
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotFound is returned when a path matches nothing.
var ErrNotFound = errors.New("path not found")

// Extract extracts a value from a JSON string using a JSONPath expression
func Extract(json string, path string) (string, error) {
	if json == "" {
		return "", errors.New("empty JSON string")
	}
	if path == "" {
		return "", errors.New("empty JSONPath expression")
	}
	if !gjson.Valid(json) {
		return "", errors.New("invalid JSON")
	}

	result := gjson.Get(json, ToGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ExtractAll extracts every path from json, in order.
func ExtractAll(json string, paths []string) ([]string, error) {
	values := make([]string, 0, len(paths))
	for _, path := range paths {
		v, err := Extract(json, path)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// ToGjsonPath converts a JSONPath expression to gjson path syntax:
// $.users[0].name becomes users.0.name.
func ToGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				cur.WriteString(path[i+1:])
				i = len(path)
				continue
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			parts = append(parts, escape(key))
			i += end
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	if len(parts) == 0 {
		return "@this"
	}
	return strings.Join(parts, ".")
}

// escape protects gjson's special characters inside a single key.
func escape(key string) string {
	var sb strings.Builder
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteByte(key[i])
	}
	return sb.String()
}
