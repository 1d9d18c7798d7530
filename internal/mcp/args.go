package mcp

import (
	"encoding/json"
	"fmt"
)

// Argument helpers for tool handlers. JSON numbers arrive as float64.

func Str(v any) string { s, _ := v.(string); return s }

func AsInt(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case int64:
		return int(x)
	case json.Number:
		i, _ := x.Int64()
		return int(i)
	default:
		return 0
	}
}

// AsFloat returns v as a float64 and whether v was numeric.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func AsStrSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RequireFloat fetches a numeric argument or fails with a readable error.
func RequireFloat(args map[string]any, key string) (float64, error) {
	f, ok := AsFloat(args[key])
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return f, nil
}

// ObjectSchema builds a JSON object schema from property schemas.
func ObjectSchema(props map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}
