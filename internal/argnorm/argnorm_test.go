package argnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalTool_ResolvesKnownAlias(t *testing.T) {
	assert.Equal(t, "mcp_psql_manager", CanonicalTool("sql"))
	assert.Equal(t, "mcp_ssh_manager", CanonicalTool("ssh"))
}

func TestCanonicalTool_UnknownToolPassesThrough(t *testing.T) {
	assert.Equal(t, "mcp_psql_manager", CanonicalTool("mcp_psql_manager"))
	assert.Equal(t, "something_else", CanonicalTool("something_else"))
}

func TestNormalize_RenamesGenericAlias(t *testing.T) {
	args := map[string]interface{}{"cmd": "ls -la"}
	report := Normalize("mcp_ssh_manager", args)

	assert.Equal(t, "ls -la", args["command"])
	_, stillPresent := args["cmd"]
	assert.False(t, stillPresent)
	assert.Equal(t, []Rename{{From: "cmd", To: "command"}}, report.Renamed)
	assert.False(t, report.Empty())
}

func TestNormalize_CanonicalAlreadySetIgnoresAliasAndDropsIt(t *testing.T) {
	args := map[string]interface{}{
		"command": "explicit",
		"cmd":     "alias value",
	}
	report := Normalize("mcp_ssh_manager", args)

	assert.Equal(t, "explicit", args["command"])
	_, stillPresent := args["cmd"]
	assert.False(t, stillPresent)
	assert.Equal(t, []Ignored{{From: "cmd", To: "command", Reason: "canonical_already_set"}}, report.Ignored)
}

func TestNormalize_ToolSpecificAliasAppliesOnTopOfGeneric(t *testing.T) {
	args := map[string]interface{}{"sql": "select 1"}
	report := Normalize("mcp_psql_manager", args)

	assert.Equal(t, "select 1", args["query"])
	assert.Contains(t, report.Renamed, Rename{From: "sql", To: "query"})
}

func TestNormalize_ToolSpecificAliasNotAppliedToOtherTools(t *testing.T) {
	args := map[string]interface{}{"sql": "select 1"}
	report := Normalize("mcp_http_manager", args)

	assert.Equal(t, "select 1", args["sql"])
	assert.True(t, report.Empty())
}

func TestNormalize_NoAliasesPresentReturnsEmptyReport(t *testing.T) {
	args := map[string]interface{}{"command": "already canonical"}
	report := Normalize("mcp_ssh_manager", args)
	assert.True(t, report.Empty())
	assert.Equal(t, "already canonical", args["command"])
}

func TestReport_EmptyReflectsBothSlices(t *testing.T) {
	assert.True(t, Report{}.Empty())
	assert.False(t, Report{Renamed: []Rename{{From: "a", To: "b"}}}.Empty())
	assert.False(t, Report{Ignored: []Ignored{{From: "a", To: "b", Reason: "x"}}}.Empty())
}
