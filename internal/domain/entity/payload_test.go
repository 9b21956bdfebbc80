package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload_KeepsLargeIntegers(t *testing.T) {
	data, err := DecodePayload([]byte(`{"orderId":9007199254740993,"price":12.5,"qty":3,"items":[{"n":1}],"note":null}`))
	require.NoError(t, err)

	assert.Equal(t, int64(9007199254740993), data["orderId"])
	assert.Equal(t, 12.5, data["price"])
	assert.Equal(t, int64(3), data["qty"])
	assert.Equal(t, []any{map[string]any{"n": int64(1)}}, data["items"])
	assert.Nil(t, data["note"])

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"orderId":9007199254740993`)
}

func TestDecodePayload_Errors(t *testing.T) {
	_, err := DecodePayload([]byte(`[1,2]`))
	assert.Error(t, err)

	data, err := DecodePayload([]byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)
}

func TestNormalizePayload(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		expected any
	}{
		{"int", 7, int64(7)},
		{"int32", int32(7), int64(7)},
		{"float32", float32(1.5), 1.5},
		{"huge uint64", uint64(1 << 63), float64(1 << 63)},
		{"fractional number", json.Number("2.25"), 2.25},
		{"integral number", json.Number("42"), int64(42)},
		{"string", "42", "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePayload(tt.in))
		})
	}
}
