package entity

import (
	"bytes"
	"encoding/json"
	"math"
)

// DecodePayload decodes a JSON object keeping integers exact. Numbers that
// fit in int64 become int64, every other number becomes float64.
func DecodePayload(raw []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	out := map[string]any{}
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return NormalizePayload(out).(map[string]any), nil
}

// NormalizePayload rewrites numbers in a decoded payload to int64 or float64
// so records read back from any store hash the same as when they were mined
func NormalizePayload(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizePayload(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizePayload(item)
		}
		return out
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val)
		}
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
