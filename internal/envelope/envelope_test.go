package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGeneric_CopiesFieldsThrough(t *testing.T) {
	dur := int64(42)
	trace := Trace{TraceID: "t1", SpanID: "s1"}
	norm := &Normalization{Renamed: []RenamedArg{{From: "cmd", To: "command"}}}

	g := BuildGeneric("mcp_psql_manager", "query", true, map[string]interface{}{"rows": 1}, &dur, trace, norm)

	assert.True(t, g.Success)
	assert.Equal(t, "mcp_psql_manager", g.Tool)
	assert.Equal(t, "query", g.Action)
	assert.Equal(t, trace, g.Trace)
	assert.Same(t, norm, g.Normalization)
	require.NotNil(t, g.DurationMs)
	assert.Equal(t, int64(42), *g.DurationMs)
}

func TestBuildExec_SyncModeSetsExitCodeNoJobID(t *testing.T) {
	src := ExecSource{Success: true, ExitCode: 0, DurationMs: 10}
	e := BuildExec("mcp_ssh_manager", "exec", src, Trace{}, "ok", "", nil, nil, false)

	assert.Equal(t, modeSync, e.Mode)
	require.NotNil(t, e.ExitCode)
	assert.Equal(t, 0, *e.ExitCode)
	assert.Nil(t, e.JobID)
}

func TestBuildExec_DetachedModeSetsJobIDNoExitCode(t *testing.T) {
	src := ExecSource{Detached: true, JobID: "job-1"}
	e := BuildExec("mcp_ssh_manager", "exec", src, Trace{}, "running", "", nil, nil, false)

	assert.Equal(t, modeDetached, e.Mode)
	assert.Nil(t, e.ExitCode)
	require.NotNil(t, e.JobID)
	assert.Equal(t, "job-1", *e.JobID)
}

func TestBuildExec_JobIDAloneImpliesDetachedMode(t *testing.T) {
	src := ExecSource{JobID: "job-2"}
	e := BuildExec("mcp_ssh_manager", "exec", src, Trace{}, "running", "", nil, nil, false)
	assert.Equal(t, modeDetached, e.Mode)
}

func TestBuildExec_TruncationProducesArtifactTailNextActions(t *testing.T) {
	src := ExecSource{StdoutTruncated: true, StderrTruncated: true}
	e := BuildExec("mcp_ssh_manager", "exec", src, Trace{}, "", "", nil, nil, false)

	var sawStdout, sawStderr bool
	for _, a := range e.NextActions {
		if a.Args["uri"] == "stdout.log" {
			sawStdout = true
		}
		if a.Args["uri"] == "stderr.log" {
			sawStderr = true
		}
	}
	assert.True(t, sawStdout)
	assert.True(t, sawStderr)
}

func TestBuildExec_JobIDProducesFollowTailCancelNextActions(t *testing.T) {
	src := ExecSource{JobID: "job-3"}
	e := BuildExec("mcp_ssh_manager", "exec", src, Trace{}, "", "", nil, nil, false)

	actions := map[string]bool{}
	for _, a := range e.NextActions {
		actions[a.Action] = true
		assert.Equal(t, "job-3", a.Args["job_id"])
	}
	assert.True(t, actions["follow_job"])
	assert.True(t, actions["tail_job"])
	assert.True(t, actions["job_cancel"])
}

func TestBuildExec_NoTruncationNoJobProducesNoNextActions(t *testing.T) {
	src := ExecSource{Success: true}
	e := BuildExec("mcp_ssh_manager", "exec", src, Trace{}, "", "", nil, nil, false)
	assert.Empty(t, e.NextActions)
}

func TestBuildExec_PropagatesArtifactWriteFailed(t *testing.T) {
	e := BuildExec("mcp_ssh_manager", "exec", ExecSource{}, Trace{}, "", "", nil, nil, true)
	assert.True(t, e.ArtifactWriteFailed)
}
