package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
)

func echoSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"message": map[string]any{"type": "string"}},
		"required":   []any{"message"},
	}
}

func echoHandler(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"message": args["message"]}, nil
}

func TestRegisterAndListLexicographic(t *testing.T) {
	r := NewRegistry(nil)
	require.Nil(t, r.Register(Definition{Name: "zeta", Description: "z", InputSchema: echoSchema()}, echoHandler))
	require.Nil(t, r.Register(Definition{Name: "alpha", Description: "a", InputSchema: echoSchema()}, echoHandler))
	require.Nil(t, r.Register(Definition{Name: "mid", Description: "m", InputSchema: echoSchema()}, echoHandler))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestRegisterRejectsDuplicateCaseSensitive(t *testing.T) {
	r := NewRegistry(nil)
	require.Nil(t, r.Register(Definition{Name: "echo", Description: "e", InputSchema: echoSchema()}, echoHandler))

	err := r.Register(Definition{Name: "echo", Description: "e2", InputSchema: echoSchema()}, echoHandler)
	require.NotNil(t, err)
	assert.Equal(t, errs.InvalidArgument, err.Code)

	assert.Nil(t, r.Register(Definition{Name: "Echo", Description: "e", InputSchema: echoSchema()}, echoHandler))
}

func TestRegisterFailsFastOnInvalidSchema(t *testing.T) {
	r := NewRegistry(nil)
	badSchema := map[string]any{"type": "object", "properties": "not-a-schema-object"}
	err := r.Register(Definition{Name: "bad", Description: "d", InputSchema: badSchema}, echoHandler)
	require.NotNil(t, err)
	assert.Equal(t, errs.InvalidArgument, err.Code)
	assert.False(t, r.Has("bad"))
}

func TestValidateDefinitionRejectsBadNameAndNonObjectSchema(t *testing.T) {
	err := ValidateDefinition(Definition{Name: "9bad", Description: "d", InputSchema: echoSchema()})
	require.NotNil(t, err)

	err = ValidateDefinition(Definition{Name: "ok", Description: "", InputSchema: echoSchema()})
	require.NotNil(t, err)

	err = ValidateDefinition(Definition{Name: "ok", Description: "d", InputSchema: map[string]any{"type": "array"}})
	require.NotNil(t, err)
}

func TestValidateUsesPrecompiledValidator(t *testing.T) {
	r := NewRegistry(nil)
	require.Nil(t, r.Register(Definition{Name: "echo", Description: "e", InputSchema: echoSchema()}, echoHandler))

	assert.Nil(t, r.Validate("echo", map[string]any{"message": "hi"}))

	err := r.Validate("echo", map[string]any{})
	require.NotNil(t, err)
	assert.Equal(t, errs.InvalidArgument, err.Code)
}

func TestUnregisterReportsWhetherFound(t *testing.T) {
	r := NewRegistry(nil)
	require.Nil(t, r.Register(Definition{Name: "echo", Description: "e", InputSchema: echoSchema()}, echoHandler))

	assert.True(t, r.Unregister("echo"))
	assert.False(t, r.Unregister("echo"))
}
