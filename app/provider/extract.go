package provider

import (
	"strings"
	"time"
)

// unwrapData peels the single "data" envelope some providers wrap
// around response and webhook bodies. It returns the input unchanged
// when no envelope is present.
func unwrapData(root map[string]interface{}) map[string]interface{} {
	if data, ok := root["data"].(map[string]interface{}); ok {
		return data
	}
	return root
}

// probeString returns the first non-empty string found at the given
// dot-separated paths, tried strictly in order.
func probeString(root map[string]interface{}, paths ...string) (string, bool) {
	for _, path := range paths {
		value, ok := lookupPath(root, path)
		if !ok {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// probeNumber returns the first JSON number found at the given paths.
func probeNumber(root map[string]interface{}, paths ...string) (float64, bool) {
	for _, path := range paths {
		value, ok := lookupPath(root, path)
		if !ok {
			continue
		}
		if n, ok := value.(float64); ok {
			return n, true
		}
	}
	return 0, false
}

// probeTime parses the first RFC3339 timestamp found at the given
// paths.
func probeTime(root map[string]interface{}, paths ...string) (time.Time, bool) {
	raw, ok := probeString(root, paths...)
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = root
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
