package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxStringParam caps string parameters bound to the store.
const maxStringParam = 4000

// SanitizeParams validates a parameter map before binding. Strings are
// length-capped, scalars pass through, UUIDs and timestamps are converted to
// their wire forms, and collection values are refused except ordered lists
// of scalars (used for IN over blocking keys). Maps never reach the store.
func SanitizeParams(params map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		sv, err := sanitizeValue(k, v, true)
		if err != nil {
			return nil, err
		}
		out[k] = sv
	}
	return out, nil
}

func sanitizeValue(key string, v any, allowList bool) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if len(val) > maxStringParam {
			return nil, fmt.Errorf("graph: parameter %q exceeds %d characters", key, maxStringParam)
		}
		return val, nil
	case bool, int, int32, int64, float32, float64:
		return val, nil
	case uuid.UUID:
		return val.String(), nil
	case time.Time:
		return val.UTC(), nil
	case []string:
		if !allowList {
			return nil, fmt.Errorf("graph: parameter %q: nested lists are not allowed", key)
		}
		out := make([]any, len(val))
		for i, s := range val {
			if len(s) > maxStringParam {
				return nil, fmt.Errorf("graph: parameter %q[%d] exceeds %d characters", key, i, maxStringParam)
			}
			out[i] = s
		}
		return out, nil
	case []any:
		if !allowList {
			return nil, fmt.Errorf("graph: parameter %q: nested lists are not allowed", key)
		}
		out := make([]any, len(val))
		for i, item := range val {
			sv, err := sanitizeValue(fmt.Sprintf("%s[%d]", key, i), item, false)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("graph: parameter %q has unsupported type %T", key, v)
	}
}
