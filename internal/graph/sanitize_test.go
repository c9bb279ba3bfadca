package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeParams_Scalars(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	out, err := SanitizeParams(map[string]any{
		"s":   "hello",
		"i":   42,
		"f":   0.92,
		"b":   true,
		"id":  id,
		"ts":  now,
		"nil": nil,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", out["s"])
	assert.Equal(t, 42, out["i"])
	assert.Equal(t, 0.92, out["f"])
	assert.Equal(t, true, out["b"])
	assert.Equal(t, id.String(), out["id"], "UUIDs bind as strings")
	assert.Equal(t, now.UTC(), out["ts"], "timestamps bind as UTC")
	assert.Nil(t, out["nil"])
}

func TestSanitizeParams_NilMap(t *testing.T) {
	out, err := SanitizeParams(nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestSanitizeParams_StringCap(t *testing.T) {
	_, err := SanitizeParams(map[string]any{"v": strings.Repeat("x", 4001)})
	assert.Error(t, err)

	_, err = SanitizeParams(map[string]any{"v": strings.Repeat("x", 4000)})
	assert.NoError(t, err)
}

func TestSanitizeParams_OrderedListsAllowed(t *testing.T) {
	out, err := SanitizeParams(map[string]any{
		"keys": []string{"pfx:acm", "tok:acme|systems", "bg:ac"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"pfx:acm", "tok:acme|systems", "bg:ac"}, out["keys"])

	out, err = SanitizeParams(map[string]any{"mixed": []any{"a", 1, true}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1, true}, out["mixed"])
}

func TestSanitizeParams_ListElementCap(t *testing.T) {
	_, err := SanitizeParams(map[string]any{"keys": []string{strings.Repeat("k", 4001)}})
	assert.Error(t, err)
}

func TestSanitizeParams_RefusesCollections(t *testing.T) {
	_, err := SanitizeParams(map[string]any{"m": map[string]any{"a": 1}})
	assert.Error(t, err, "maps must be refused")

	_, err = SanitizeParams(map[string]any{"nested": []any{[]any{"a"}}})
	assert.Error(t, err, "nested lists must be refused")

	_, err = SanitizeParams(map[string]any{"struct": struct{ X int }{1}})
	assert.Error(t, err)
}
