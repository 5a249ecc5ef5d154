// Package localexec implements the repo-exec and local-exec command
// runners: os/exec with the same soft/hard timeout composition as the SSH
// exec path, plus go-git-based repo root/branch/remote resolution and
// allowed-remote enforcement for the repo-exec family.
package localexec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

const (
	defaultTimeout = 30 * time.Second
	maxCapture     = 256 * 1024
	maxInline      = 16 * 1024
)

// Request is one local or repo command execution.
type Request struct {
	Command         string
	Cwd             string
	Env             map[string]string
	TimeoutMs       int64
	Budget          time.Duration
	AllowedRemotes  []string // non-empty only for the repo-exec family
}

// Result mirrors the SSH exec result shape so envelope construction is
// uniform across tool families.
type Result struct {
	Success         bool   `json:"success"`
	Command         string `json:"command"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutBytes     int64  `json:"stdout_bytes"`
	StderrBytes     int64  `json:"stderr_bytes"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`
	ExitCode        int    `json:"exit_code"`
	TimedOut        bool   `json:"timed_out"`
	DurationMs      int64  `json:"duration_ms"`
	TimeoutMs       int64  `json:"timeout_ms"`
	RepoRoot        string `json:"repo_root,omitempty"`
	Branch          string `json:"branch,omitempty"`
}

// RepoInfo describes the resolved git working tree a repo-exec call runs
// inside.
type RepoInfo struct {
	Root   string
	Branch string
	Origin string
}

// ResolveRepo opens the git repository containing dir (or dir itself), and
// returns its working tree root, current branch, and origin remote URL.
func ResolveRepo(dir string) (*RepoInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errs.InvalidParams("REPO_NOT_FOUND", fmt.Sprintf("no git repository found at or above %q: %v", dir, err))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, errs.Internal(fmt.Errorf("localexec: resolve worktree: %w", err))
	}
	head, err := repo.Head()
	branch := ""
	if err == nil && head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	origin := ""
	if remote, remoteErr := repo.Remote("origin"); remoteErr == nil {
		cfg := remote.Config()
		if len(cfg.URLs) > 0 {
			origin = cfg.URLs[0]
		}
	}
	return &RepoInfo{Root: wt.Filesystem.Root(), Branch: branch, Origin: origin}, nil
}

// EnforceAllowedRemote denies the call if allowedRemotes is non-empty and
// origin does not appear in it.
func EnforceAllowedRemote(origin string, allowedRemotes []string) error {
	if len(allowedRemotes) == 0 {
		return nil
	}
	for _, r := range allowedRemotes {
		if r == origin {
			return nil
		}
	}
	return errs.Denied(errs.CodePolicyDeniedRemote, fmt.Sprintf("origin remote %q is not in the allowed list", origin))
}

// Run executes req.Command via the shell, bounding it by the same
// soft/hard timeout composition sshmgr.Exec uses, and returns a result
// shaped like the SSH exec result.
func Run(ctx context.Context, req Request) (*Result, error) {
	budget := req.Budget
	if budget <= 0 {
		budget = 55 * time.Second
	}
	effective := time.Duration(req.TimeoutMs) * time.Millisecond
	if effective <= 0 {
		effective = defaultTimeout
	}
	if effective > budget {
		effective = budget
	}

	runCtx, cancel := context.WithTimeout(ctx, effective)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-lc", req.Command)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Internal(fmt.Errorf("localexec: stdout pipe: %w", err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Internal(fmt.Errorf("localexec: stderr pipe: %w", err))
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "LOCAL_EXEC_START_FAILED", "failed to start command", err)
	}

	var stdoutBuf, stderrBuf limitedBuffer
	stdoutBuf.max = maxCapture
	stderrBuf.max = maxCapture

	done := make(chan struct{}, 2)
	go func() { io.Copy(&stdoutBuf, bufio.NewReader(stdoutPipe)); done <- struct{}{} }()
	go func() { io.Copy(&stderrBuf, bufio.NewReader(stderrPipe)); done <- struct{}{} }()
	<-done
	<-done

	waitErr := cmd.Wait()
	duration := time.Since(started)

	result := &Result{
		Command:         req.Command,
		Stdout:          stdoutBuf.inlineString(),
		Stderr:          stderrBuf.inlineString(),
		StdoutBytes:     stdoutBuf.total,
		StderrBytes:     stderrBuf.total,
		StdoutTruncated: stdoutBuf.truncated,
		StderrTruncated: stderrBuf.truncated,
		DurationMs:      duration.Milliseconds(),
		TimeoutMs:       effective.Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if waitErr == nil {
		result.ExitCode = 0
		result.Success = true
		return result, nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		result.Success = false
		return result, nil
	}
	return nil, errs.Wrap(errs.KindInternal, "LOCAL_EXEC_FAILED", "command execution failed", waitErr)
}

// limitedBuffer is an io.Writer that caps retained bytes at max, tracking
// total bytes seen and whether the retained window was truncated.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int64
	total     int64
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.total += int64(len(p))
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	take := p
	if int64(len(take)) > remaining {
		take = take[:remaining]
		b.truncated = true
	}
	b.buf.Write(take)
	return len(p), nil
}

func (b *limitedBuffer) inlineString() string {
	s := b.buf.String()
	if len(s) > maxInline {
		return s[:maxInline]
	}
	return s
}
