package localexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SuccessfulCommandCapturesStdout(t *testing.T) {
	result, err := Run(context.Background(), Request{Command: "echo hello"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestRun_NonZeroExitReportsFailureNotError(t *testing.T) {
	result, err := Run(context.Background(), Request{Command: "exit 3"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRun_StderrCaptured(t *testing.T) {
	result, err := Run(context.Background(), Request{Command: "echo oops 1>&2"})
	require.NoError(t, err)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestRun_CwdHonored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	result, err := Run(context.Background(), Request{Command: "ls", Cwd: dir})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "marker.txt")
}

func TestRun_EnvVarsPassedThrough(t *testing.T) {
	result, err := Run(context.Background(), Request{
		Command: `echo "$GREETING"`,
		Env:     map[string]string{"GREETING": "hi there"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", result.Stdout)
}

func TestRun_TimeoutReportsTimedOutNotError(t *testing.T) {
	result, err := Run(context.Background(), Request{Command: "sleep 5", TimeoutMs: 50})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
}

func TestRun_TimeoutMsClampedToBudget(t *testing.T) {
	result, err := Run(context.Background(), Request{Command: "sleep 5", TimeoutMs: 10_000, Budget: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
}

func TestRun_DefaultTimeoutAppliedWhenUnset(t *testing.T) {
	result, err := Run(context.Background(), Request{Command: "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout.Milliseconds(), result.TimeoutMs)
}

func TestLimitedBuffer_TracksTotalAndTruncation(t *testing.T) {
	b := &limitedBuffer{max: 4}
	b.Write([]byte("hello world"))
	assert.Equal(t, int64(11), b.total)
	assert.True(t, b.truncated)
	assert.Equal(t, "hell", b.buf.String())
}

func TestLimitedBuffer_InlineStringCapsAtMaxInline(t *testing.T) {
	b := &limitedBuffer{max: maxInline + 100}
	big := make([]byte, maxInline+50)
	for i := range big {
		big[i] = 'a'
	}
	b.Write(big)
	assert.Len(t, b.inlineString(), maxInline)
}

func TestEnforceAllowedRemote_EmptyAllowListPermitsAnyOrigin(t *testing.T) {
	assert.NoError(t, EnforceAllowedRemote("git@example.com:org/repo.git", nil))
}

func TestEnforceAllowedRemote_OriginInListPasses(t *testing.T) {
	assert.NoError(t, EnforceAllowedRemote("origin-a", []string{"origin-a", "origin-b"}))
}

func TestEnforceAllowedRemote_OriginNotInListDenied(t *testing.T) {
	err := EnforceAllowedRemote("origin-c", []string{"origin-a", "origin-b"})
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodePolicyDeniedRemote, tagged.Code)
}

func TestResolveRepo_MissingRepoErrors(t *testing.T) {
	_, err := ResolveRepo(t.TempDir())
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, "REPO_NOT_FOUND", tagged.Code)
}

func TestResolveRepo_ResolvesRootBranchAndOrigin(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{"git@example.com:org/repo.git"}})
	require.NoError(t, err)

	info, err := ResolveRepo(dir)
	require.NoError(t, err)
	assert.Equal(t, "git@example.com:org/repo.git", info.Origin)
	assert.NotEmpty(t, info.Branch)
}
