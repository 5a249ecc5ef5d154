package contextfmt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineConstructors_SetExpectedPrefix(t *testing.T) {
	assert.Equal(t, "A", Answer("x").Prefix)
	assert.Equal(t, "N", Note("x").Prefix)
	assert.Equal(t, "R", ArtifactRef("x").Prefix)
	assert.Equal(t, "E", ErrorLine("x").Prefix)
	assert.Equal(t, "C", Command("x").Prefix)
	assert.Equal(t, "M", Continuation("x").Prefix)
}

func TestRender_IncludesLegendAndContentHeaders(t *testing.T) {
	out := Render([]Line{Answer("hello")})
	require.True(t, strings.HasPrefix(out, "[LEGEND]\n"))
	assert.Contains(t, out, "A:answer N:note R:artifact-ref E:error C:command M:continuation")
	assert.Contains(t, out, "[CONTENT]\nA:hello\n")
}

func TestRender_SplitsMultilineContentPerPrefixedLine(t *testing.T) {
	out := Render([]Line{Note("line one\nline two")})
	assert.Contains(t, out, "N:line one\n")
	assert.Contains(t, out, "N:line two\n")
}

func TestRender_EmptyLinesStillProducesHeaders(t *testing.T) {
	out := Render(nil)
	assert.Contains(t, out, "[LEGEND]")
	assert.Contains(t, out, "[CONTENT]")
}

func TestForExecResult_SuccessOmitsErrorLine(t *testing.T) {
	out := ForExecResult("ls -la", "total 0", "", true, "", nil)
	assert.Contains(t, out, "C:ls -la")
	assert.Contains(t, out, "A:total 0")
	assert.NotContains(t, out, "E:")
}

func TestForExecResult_FailureIncludesErrorLine(t *testing.T) {
	out := ForExecResult("false", "", "", false, "exit status 1", nil)
	assert.Contains(t, out, "E:exit status 1")
}

func TestForExecResult_IncludesStderrAsNote(t *testing.T) {
	out := ForExecResult("cmd", "", "permission denied", false, "exit status 1", nil)
	assert.Contains(t, out, "N:stderr: permission denied")
}

func TestForExecResult_IncludesArtifactRefs(t *testing.T) {
	out := ForExecResult("cmd", "", "", true, "", []string{"artifact://1", "artifact://2"})
	assert.Contains(t, out, "R:artifact://1")
	assert.Contains(t, out, "R:artifact://2")
}

func TestForExecResult_SuccessWithNoOutputOmitsAnswerLine(t *testing.T) {
	out := ForExecResult("cmd", "", "", true, "", nil)
	assert.NotContains(t, out, "A:")
}
