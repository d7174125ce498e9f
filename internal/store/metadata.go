package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Metadata holds free-form annotations on tasks and sessions.
// Values are restricted to strings, booleans and numbers.
type Metadata map[string]any

// Validate checks that every key is non-empty and every value has a supported kind.
func (m Metadata) Validate() error {
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("metadata key must not be empty")
		}
		switch v.(type) {
		case string, bool, float64, float32, int, int64, int32:
		default:
			return fmt.Errorf("metadata %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseMetadata converts key=value pairs into Metadata. Values that parse as
// booleans or numbers are stored as such; everything else stays a string.
func ParseMetadata(pairs []string) (Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(Metadata, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q (use key=value)", p)
		}
		if lower := strings.ToLower(value); lower == "true" || lower == "false" {
			m[key] = lower == "true"
		} else if f, err := strconv.ParseFloat(value, 64); err == nil {
			m[key] = f
		} else {
			m[key] = value
		}
	}
	return m, nil
}

// encodeMetadata returns the JSON form stored in the database, or "" for empty metadata.
func encodeMetadata(m Metadata) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	if err := m.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) Metadata {
	if raw == "" || raw == "null" {
		return nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
