package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/artifacts"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/config"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/envelope"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/policy"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/profiles"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/project"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/schema"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/secretref"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/state"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/tooldefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()

	reg := schema.NewRegistry()
	require.NoError(t, tooldefs.Register(reg))

	st, err := state.Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	projStore, err := project.Open(filepath.Join(dir, "projects.json"))
	require.NoError(t, err)

	cipher, err := profiles.NewAESGCMCipher(make([]byte, 32))
	require.NoError(t, err)
	profStore, err := profiles.Open(filepath.Join(dir, "profiles.json"), cipher)
	require.NoError(t, err)

	pol := policy.NewService(st)
	artStore := artifacts.NewStore(filepath.Join(dir, "artifacts"))
	resolver := secretref.New(nil)

	return New(&config.Config{}, reg, profStore, projStore, st, pol, nil, nil, artStore, resolver, nil, nil)
}

func TestExecute_LocalExecHappyPath(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.Execute(context.Background(), Request{
		Tool:      "mcp_local_manager",
		Action:    "exec",
		Arguments: map[string]interface{}{"command": "echo hi"},
		TraceID:   "trace-1",
		SpanID:    "span-1",
	})
	require.NoError(t, err)

	exec, ok := result.(*envelope.Exec)
	require.True(t, ok)
	assert.True(t, exec.Success)
	assert.Nil(t, exec.Error)
}

func TestExecute_InvalidResponseModeFails(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.Execute(context.Background(), Request{
		Tool:         "mcp_local_manager",
		Action:       "exec",
		Arguments:    map[string]interface{}{"command": "echo hi"},
		ResponseMode: "bogus",
	})
	require.NoError(t, err)
	g, ok := result.(*envelope.Generic)
	require.True(t, ok)
	require.NotNil(t, g.Error)
	assert.Equal(t, "INVALID_RESPONSE_MODE", g.Error.Code)
}

func TestExecute_SchemaValidationFailureReturnsGenericError(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.Execute(context.Background(), Request{
		Tool:      "mcp_local_manager",
		Action:    "exec",
		Arguments: map[string]interface{}{},
	})
	require.NoError(t, err)
	g, ok := result.(*envelope.Generic)
	require.True(t, ok)
	require.NotNil(t, g.Error)
}

func TestExecute_UnknownToolErrors(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.Execute(context.Background(), Request{
		Tool:      "mcp_does_not_exist",
		Action:    "noop",
		Arguments: map[string]interface{}{},
	})
	require.NoError(t, err)
	g, ok := result.(*envelope.Generic)
	require.True(t, ok)
	require.NotNil(t, g.Error)
}

func TestExecute_OutputShapeAppliedToResult(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.Execute(context.Background(), Request{
		Tool:   "mcp_local_manager",
		Action: "exec",
		Arguments: map[string]interface{}{
			"command": "echo hi",
			"output":  map[string]interface{}{"pick": []interface{}{"exit_code"}},
		},
	})
	require.NoError(t, err)
	exec, ok := result.(*envelope.Exec)
	require.True(t, ok)
	assert.True(t, exec.Success)
}

func TestExecute_StoreAsPersistsResultInSessionState(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Execute(context.Background(), Request{
		Tool:   "mcp_local_manager",
		Action: "exec",
		Arguments: map[string]interface{}{
			"command":  "echo hi",
			"store_as": "last_result",
		},
	})
	require.NoError(t, err)

	_, ok := e.State.Get(state.ScopeSession, "last_result")
	assert.True(t, ok)
}

func TestDispatchArtifacts_ListOnEmptyStoreReturnsEmpty(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.dispatchArtifacts(context.Background(), "list", map[string]interface{}{})
	require.NoError(t, err)
	entries, ok := result.([]artifacts.ListEntry)
	require.True(t, ok)
	assert.Empty(t, entries)
}

func TestDispatchArtifacts_UnknownActionErrors(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.dispatchArtifacts(context.Background(), "bogus", map[string]interface{}{})
	assert.Error(t, err)
}

func TestIsExecFamily_MatchesKnownExecTools(t *testing.T) {
	assert.True(t, isExecFamily("mcp_ssh_manager", "exec"))
	assert.True(t, isExecFamily("mcp_repo_manager", "exec"))
	assert.True(t, isExecFamily("mcp_local_manager", "exec"))
	assert.False(t, isExecFamily("mcp_psql_manager", "query"))
	assert.False(t, isExecFamily("mcp_ssh_manager", "job_status"))
}

func TestIntentFor_KnownWriteIntents(t *testing.T) {
	intent, ok := intentFor("mcp_ssh_manager", "exec")
	assert.True(t, ok)
	assert.Equal(t, "ssh.exec", intent)

	_, ok = intentFor("mcp_ssh_manager", "job_status")
	assert.False(t, ok)

	_, ok = intentFor("mcp_does_not_exist", "anything")
	assert.False(t, ok)
}

func TestProfileTypeForTool_KnownAndUnknown(t *testing.T) {
	pt, ok := profileTypeForTool("mcp_ssh_manager")
	assert.True(t, ok)
	assert.Equal(t, profiles.TypeSSH, pt)

	_, ok = profileTypeForTool("mcp_local_manager")
	assert.False(t, ok)
}

func TestBindingProfile_ReturnsFieldForType(t *testing.T) {
	b := project.TargetBinding{SSHProfile: "ssh-1", PostgresProfile: "pg-1"}
	assert.Equal(t, "ssh-1", bindingProfile(b, profiles.TypeSSH))
	assert.Equal(t, "pg-1", bindingProfile(b, profiles.TypePostgres))
	assert.Equal(t, "", bindingProfile(b, profiles.TypeVault))
}

func TestLockKeyFor_RepoManagerUsesCwd(t *testing.T) {
	key := lockKeyFor("mcp_repo_manager", nil, map[string]interface{}{"cwd": "/srv/app"})
	assert.Equal(t, policy.LockKeyForRepo("/srv/app"), key)
}

func TestLockKeyFor_ResolvedTargetUsesProjectTarget(t *testing.T) {
	resolved := &project.Resolved{ProjectName: "demo", TargetName: "prod"}
	key := lockKeyFor("mcp_ssh_manager", resolved, map[string]interface{}{})
	assert.Equal(t, policy.LockKeyForTarget("demo", "prod"), key)
}

func TestLockKeyFor_NoResolvedAndNoCwdIsEmpty(t *testing.T) {
	assert.Equal(t, "", lockKeyFor("mcp_ssh_manager", nil, map[string]interface{}{}))
}

func TestCloneArgs_ShallowCopiesMap(t *testing.T) {
	orig := map[string]interface{}{"a": 1}
	clone := cloneArgs(orig)
	clone["b"] = 2
	assert.NotContains(t, orig, "b")
	assert.Equal(t, 1, clone["a"])
}

func TestToJSONValue_RoundTripsStruct(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	v, err := toJSONValue(inner{Name: "x"})
	require.NoError(t, err)
	m, ok := v.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "x", m["name"])
}

func TestInt64Arg_HandlesNumericTypes(t *testing.T) {
	assert.Equal(t, int64(5), int64Arg(map[string]interface{}{"x": int64(5)}, "x"))
	assert.Equal(t, int64(5), int64Arg(map[string]interface{}{"x": 5}, "x"))
	assert.Equal(t, int64(5), int64Arg(map[string]interface{}{"x": 5.0}, "x"))
	assert.Equal(t, int64(0), int64Arg(map[string]interface{}{}, "x"))
}

func TestStringMapArg_ConvertsStringValuesOnly(t *testing.T) {
	out := stringMapArg(map[string]interface{}{"env": map[string]interface{}{"A": "1", "B": 2}}, "env")
	assert.Equal(t, map[string]string{"A": "1"}, out)
}

func TestStringMapArg_MissingKeyReturnsNil(t *testing.T) {
	assert.Nil(t, stringMapArg(map[string]interface{}{}, "env"))
}

func TestExecSummary_UsesErrorMessageWhenPresent(t *testing.T) {
	err := errs.InvalidParams("CODE", "boom")
	summary := execSummary(envelope.ExecSource{}, err)
	assert.Equal(t, "boom", summary)
}

func TestExecSummary_DetachedReportsJobID(t *testing.T) {
	summary := execSummary(envelope.ExecSource{Detached: true, JobID: "job-9"}, nil)
	assert.Contains(t, summary, "job-9")
}

func TestExecSummary_SuccessReportsExitCode(t *testing.T) {
	summary := execSummary(envelope.ExecSource{Success: true, ExitCode: 0}, nil)
	assert.Contains(t, summary, "0")
}

func TestUriToRel_StripsArtifactScheme(t *testing.T) {
	assert.Equal(t, "foo/bar.log", uriToRel("artifact://foo/bar.log"))
	assert.Equal(t, "foo/bar.log", uriToRel("foo/bar.log"))
}

func TestExecSourceFrom_ParsesMapResult(t *testing.T) {
	src, _, _ := execSourceFrom(map[string]interface{}{
		"success":   true,
		"exit_code": float64(0),
		"stdout":    "hi",
	})
	assert.True(t, src.Success)
	assert.Equal(t, "hi", src.Stdout)
}

func TestExecSourceFrom_NonMapResultReturnsZeroValue(t *testing.T) {
	src, wait, status := execSourceFrom("not a map")
	assert.Equal(t, envelope.ExecSource{}, src)
	assert.Nil(t, wait)
	assert.Nil(t, status)
}
