// Package models defines the task, project and user shapes this subsystem
// reads from the surrounding platform, plus the field classification used
// when flattening task content.
package models

import (
	"encoding/json"
	"strconv"
)

// Info is an open field map (task.info, project.info). Well-known keys are
// read through typed accessors; everything else round-trips untouched.
type Info map[string]any

// String returns the string stored under key.
func (i Info) String(key string) (string, bool) {
	s, ok := i[key].(string)
	return s, ok
}

// Int returns the integer stored under key, accepting any JSON number form.
func (i Info) Int(key string) (int64, bool) {
	return toInt(i[key])
}

// Map returns the nested map stored under key.
func (i Info) Map(key string) (Info, bool) {
	switch m := i[key].(type) {
	case map[string]any:
		return Info(m), true
	case Info:
		return m, true
	}
	return nil, false
}

// Lookup follows path through nested maps and returns the value at its end.
func (i Info) Lookup(path ...string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur := i
	for _, key := range path[:len(path)-1] {
		next, ok := cur.Map(key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	v, ok := cur[path[len(path)-1]]
	return v, ok
}

// StringSlice returns the list of strings stored under key. Non-string
// items are skipped.
func (i Info) StringSlice(key string) []string {
	items, ok := i[key].([]any)
	if !ok {
		if s, ok := i[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		x, err := n.Int64()
		return x, err == nil
	case string:
		x, err := strconv.ParseInt(n, 10, 64)
		return x, err == nil
	}
	return 0, false
}
