package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": true,
		"required":             []interface{}{"profile"},
		"properties": map[string]interface{}{
			"profile": map[string]interface{}{"type": "string"},
			"timeout_ms": map[string]interface{}{"type": "integer"},
		},
	}
}

func TestRegister_ThenGetReturnsSameSchema(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mcp_ssh_manager", "exec", simpleSchema(), nil))

	ts, ok := r.Get("mcp_ssh_manager", "exec")
	require.True(t, ok)
	assert.Equal(t, "mcp_ssh_manager", ts.Tool)
	assert.Equal(t, "exec", ts.Action)
}

func TestGet_UnregisteredActionNotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("mcp_ssh_manager", "exec")
	assert.False(t, ok)
}

func TestValidate_UnregisteredActionReturnsNil(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{})
	assert.Nil(t, err)
}

func TestValidate_ValidPayloadPasses(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mcp_ssh_manager", "exec", simpleSchema(), nil))

	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{"profile": "prod-db"})
	assert.Nil(t, err)
}

func TestValidate_MissingRequiredFieldReturnsInvalidParams(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mcp_ssh_manager", "exec", simpleSchema(), nil))

	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{})
	require.NotNil(t, err)
	assert.NotEmpty(t, err.Details["pointers"])
}

func TestValidate_WrongTypeReportsPointer(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mcp_ssh_manager", "exec", simpleSchema(), nil))

	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{
		"profile":    "prod-db",
		"timeout_ms": "not-a-number",
	})
	require.NotNil(t, err)
	pointers := err.Details["pointers"].(map[string]string)
	assert.Contains(t, pointers, "/timeout_ms")
}

func TestValidate_IncludesExampleInDetailsWhenRegistered(t *testing.T) {
	r := NewRegistry()
	example := map[string]interface{}{"profile": "prod-db"}
	require.NoError(t, r.Register("mcp_ssh_manager", "exec", simpleSchema(), example))

	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{})
	require.NotNil(t, err)
	assert.Equal(t, example, err.Details["example"])
}

func TestValidate_UnknownPropertySuggestsDidYouMean(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mcp_ssh_manager", "exec", simpleSchema(), nil))

	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{
		"prfile": "prod-db",
	})
	require.NotNil(t, err)
	didYouMean, ok := err.Details["did_you_mean"].(map[string][]string)
	require.True(t, ok)
	assert.Contains(t, didYouMean["prfile"], "profile")
}
