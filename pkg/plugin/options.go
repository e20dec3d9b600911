package plugin

import (
	"fmt"
	"time"
)

// Int reads an integer option. Numbers decoded from JSON or YAML may arrive as
// float64 or int, so both are accepted.
func Int(cfg map[string]any, key string, def int) (int, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("option %s must be a whole number, got %g", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("option %s must be a number, got %T", key, v)
	}
}

// String reads a string option.
func String(cfg map[string]any, key, def string) (string, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("option %s must be a string, got %T", key, v)
	}
}

// Duration reads a duration option given as a time.Duration or a string such as "40ms".
func Duration(cfg map[string]any, key string, def time.Duration) (time.Duration, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("option %s must be a duration, got %T", key, v)
	}
}
