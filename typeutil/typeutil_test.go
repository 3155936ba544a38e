package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeStringAssertsOrZeroValue(t *testing.T) {
	s, ok := SafeString("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	s, ok = SafeString(42)
	assert.False(t, ok)
	assert.Equal(t, "", s)

	s, ok = SafeString(nil)
	assert.False(t, ok)
	assert.Equal(t, "", s)
}

func TestSafeMapStringAny(t *testing.T) {
	m, ok := SafeMapStringAny(map[string]any{"a": 1})
	assert.True(t, ok)
	assert.Equal(t, 1, m["a"])

	_, ok = SafeMapStringAny("not a map")
	assert.False(t, ok)
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"agent": map[string]any{
			"profile": map[string]any{
				"name": "atlas",
			},
		},
	}

	v, ok := GetNestedValue(data, "agent.profile.name")
	assert.True(t, ok)
	assert.Equal(t, "atlas", v)

	_, ok = GetNestedValue(data, "agent.missing.name")
	assert.False(t, ok)

	_, ok = GetNestedValue(data, "")
	assert.False(t, ok)
}
