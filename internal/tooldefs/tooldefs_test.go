package tooldefs

import (
	"testing"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_CompilesEveryDefWithoutError(t *testing.T) {
	r := schema.NewRegistry()
	require.NoError(t, Register(r))

	for _, tool := range Tools() {
		for _, action := range Actions(tool) {
			_, ok := r.Get(tool, action)
			assert.True(t, ok, "expected %s/%s to be registered", tool, action)
		}
	}
}

func TestTools_ReturnsDistinctNonEmptyList(t *testing.T) {
	tools := Tools()
	assert.NotEmpty(t, tools)

	seen := map[string]bool{}
	for _, tool := range tools {
		assert.False(t, seen[tool], "duplicate tool %s", tool)
		seen[tool] = true
	}
}

func TestActions_SSHManagerIncludesExec(t *testing.T) {
	actions := Actions("mcp_ssh_manager")
	assert.Contains(t, actions, "exec")
}

func TestActions_UnknownToolReturnsEmpty(t *testing.T) {
	assert.Empty(t, Actions("mcp_does_not_exist"))
}

func TestProperties_SSHExecIncludesCommand(t *testing.T) {
	props := Properties("mcp_ssh_manager", "exec")
	assert.Contains(t, props, "command")
}

func TestProperties_UnknownActionReturnsNil(t *testing.T) {
	assert.Nil(t, Properties("mcp_ssh_manager", "does_not_exist"))
}

func TestRegister_ExecSchemaRequiresCommand(t *testing.T) {
	r := schema.NewRegistry()
	require.NoError(t, Register(r))

	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{})
	require.NotNil(t, err)
}

func TestRegister_ExecSchemaAcceptsValidPayload(t *testing.T) {
	r := schema.NewRegistry()
	require.NoError(t, Register(r))

	err := r.Validate("mcp_ssh_manager", "exec", map[string]interface{}{"command": "echo hi"})
	assert.Nil(t, err)
}
