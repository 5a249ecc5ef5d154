package sshmgr

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/artifacts"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/jobs"
)

const (
	defaultExecTimeout = 30 * time.Second
	execTimeoutGrace   = 5 * time.Second
	defaultMaxCapture  = 256 * 1024
	defaultMaxInline   = 16 * 1024
)

// StreamMode controls whether exec output is also mirrored to artifacts.
type StreamMode string

const (
	StreamOff    StreamMode = ""
	StreamCapped StreamMode = "capped"
	StreamFull   StreamMode = "full"
)

// ExecRequest is one single-shot exec invocation.
type ExecRequest struct {
	Connection    ConnectionSpec
	Command       string
	Cwd           string
	Env           map[string]string
	Stdin         string
	PTY           bool
	TimeoutMs     int64
	Budget        time.Duration
	MaxCapture    int64
	MaxInline     int64
	Stream        StreamMode
	TraceID       string
	SpanID        string
	Artifacts     *artifacts.Store
}

// ExecResult mirrors the exec tool's wire result.
type ExecResult struct {
	Success               bool   `json:"success"`
	Command               string `json:"command"`
	Stdout                string `json:"stdout"`
	Stderr                string `json:"stderr"`
	StdoutBytes           int64  `json:"stdout_bytes"`
	StderrBytes           int64  `json:"stderr_bytes"`
	StdoutTruncated       bool   `json:"stdout_truncated"`
	StderrTruncated       bool   `json:"stderr_truncated"`
	StdoutInlineTruncated bool   `json:"stdout_inline_truncated"`
	StderrInlineTruncated bool   `json:"stderr_inline_truncated"`
	StdoutRef             string `json:"stdout_ref,omitempty"`
	StderrRef             string `json:"stderr_ref,omitempty"`
	ExitCode              int    `json:"exit_code"`
	Signal                string `json:"signal,omitempty"`
	TimedOut              bool   `json:"timed_out"`
	HardTimedOut          bool   `json:"hard_timed_out"`
	DurationMs            int64  `json:"duration_ms"`
	TimeoutMs             int64  `json:"timeout_ms"`
	RequestedTimeoutMs    int64  `json:"requested_timeout_ms,omitempty"`
	Detached              bool   `json:"detached,omitempty"`
}

// quotePosix wraps s in single quotes, escaping embedded single quotes per
// the standard POSIX idiom: each ' becomes '\''.
func quotePosix(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func wrapCwd(command, cwd string) string {
	if cwd == "" {
		return command
	}
	return fmt.Sprintf("cd %s && %s", quotePosix(cwd), command)
}

// Exec runs req.Command over a pooled or anonymous connection, composing the
// soft/hard timeout pair against the caller's budget and capturing output
// per the configured capture policy. Degrades to a detached job when the
// requested timeout exceeds the available budget.
func (m *Manager) Exec(ctx context.Context, req ExecRequest) (*ExecResult, *jobs.Job, error) {
	budget := req.Budget
	if budget <= 0 {
		budget = m.defaultBudget()
	}
	requested := time.Duration(req.TimeoutMs) * time.Millisecond
	if req.TimeoutMs > 0 && requested > budget {
		job, err := m.ExecDetached(ctx, ExecDetachedRequest{
			Connection:     req.Connection,
			Command:        req.Command,
			Cwd:            req.Cwd,
			Env:            req.Env,
			StartTimeoutMs: 10_000,
			TraceID:        req.TraceID,
			SpanID:         req.SpanID,
		})
		if err != nil {
			return nil, nil, err
		}
		return &ExecResult{
			Command:            req.Command,
			Detached:           true,
			RequestedTimeoutMs: req.TimeoutMs,
			TimeoutMs:          req.TimeoutMs,
		}, job, nil
	}

	effective := requested
	if effective <= 0 {
		effective = defaultExecTimeout
	}
	if effective > budget {
		effective = budget
	}

	result, err := m.runExecOnce(ctx, req, effective)
	if err != nil {
		if isChannelOpenFailure(err) {
			m.evictConnection(req.Connection)
			result, err = m.runExecOnce(ctx, req, effective)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	result.TimeoutMs = effective.Milliseconds()
	return result, nil, nil
}

func (m *Manager) runExecOnce(ctx context.Context, req ExecRequest, effective time.Duration) (*ExecResult, error) {
	entry, err := m.pool.acquire(req.Connection)
	if err != nil {
		return nil, err
	}
	defer m.pool.release(req.Connection, entry)

	session, err := entry.client.NewSession()
	if err != nil {
		return nil, errs.Wrap(errs.KindRetryable, "SSH_SESSION_FAILED", "failed to open SSH session", err)
	}
	defer session.Close()

	if req.PTY {
		if err := session.RequestPty("xterm", 80, 40, ssh.TerminalModes{}); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "SSH_PTY_FAILED", "failed to request pty", err)
		}
	}
	for k, v := range req.Env {
		session.Setenv(k, v)
	}

	maxCapture := req.MaxCapture
	if maxCapture <= 0 {
		maxCapture = defaultMaxCapture
	}
	maxInline := req.MaxInline
	if maxInline <= 0 {
		maxInline = defaultMaxInline
	}

	stdoutBuf := newCaptureWriter(maxCapture, maxInline)
	stderrBuf := newCaptureWriter(maxCapture, maxInline)
	var stdoutWriter, stderrWriter *artifacts.Writer
	if req.Stream != StreamOff && req.Artifacts != nil {
		if w, werr := req.Artifacts.CreateWriteStream(artifacts.RelForRun(req.TraceID, req.SpanID, "stdout.log")); werr == nil {
			stdoutWriter = w
		}
		if w, werr := req.Artifacts.CreateWriteStream(artifacts.RelForRun(req.TraceID, req.SpanID, "stderr.log")); werr == nil {
			stderrWriter = w
		}
	}
	stdoutBuf.mirror = stdoutWriter
	stdoutBuf.streamMode = req.Stream
	stderrBuf.mirror = stderrWriter
	stderrBuf.streamMode = req.Stream

	session.Stdout = stdoutBuf
	session.Stderr = stderrBuf
	if req.Stdin != "" {
		session.Stdin = strings.NewReader(req.Stdin)
	}

	command := wrapCwd(req.Command, req.Cwd)

	started := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	softTimer := time.NewTimer(effective)
	defer softTimer.Stop()

	var runErr error
	var timedOut, hardTimedOut bool

	select {
	case runErr = <-done:
	case <-ctx.Done():
		session.Close()
		runErr = <-done
	case <-softTimer.C:
		timedOut = true
		session.Close()
		hardTimer := time.NewTimer(execTimeoutGrace)
		defer hardTimer.Stop()
		select {
		case runErr = <-done:
		case <-hardTimer.C:
			hardTimedOut = true
			entry.client.Close()
			runErr = <-done
		}
	}
	duration := time.Since(started)

	result := &ExecResult{
		Command:               req.Command,
		Stdout:                stdoutBuf.inline.String(),
		Stderr:                stderrBuf.inline.String(),
		StdoutBytes:           stdoutBuf.total,
		StderrBytes:           stderrBuf.total,
		StdoutTruncated:       stdoutBuf.captureTruncated,
		StderrTruncated:       stderrBuf.captureTruncated,
		StdoutInlineTruncated: stdoutBuf.inlineTruncated,
		StderrInlineTruncated: stderrBuf.inlineTruncated,
		TimedOut:              timedOut,
		HardTimedOut:          hardTimedOut,
		DurationMs:            duration.Milliseconds(),
	}

	if stdoutWriter != nil {
		if art, ferr := stdoutWriter.Finalize(); ferr == nil {
			result.StdoutRef = art.URI
		}
	}
	if stderrWriter != nil {
		if art, ferr := stderrWriter.Finalize(); ferr == nil {
			result.StderrRef = art.URI
		}
	}

	if timedOut {
		result.ExitCode = -1
		result.Success = false
		return result, nil
	}
	if runErr == nil {
		result.ExitCode = 0
		result.Success = true
		return result, nil
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		result.ExitCode = exitErr.ExitStatus()
		result.Signal = exitErr.Signal()
		result.Success = result.ExitCode == 0
		return result, nil
	}
	if _, ok := runErr.(*ssh.ExitMissingError); ok {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	return nil, errs.Wrap(errs.KindRetryable, "SSH_EXEC_FAILED", "command execution failed", runErr)
}

func isChannelOpenFailure(err error) bool {
	return strings.Contains(err.Error(), "channel open failed") || strings.Contains(err.Error(), "EOF")
}

func (m *Manager) evictConnection(spec ConnectionSpec) {
	if spec.ProfileName == "" {
		return
	}
	m.pool.mu.Lock()
	defer m.pool.mu.Unlock()
	if e, ok := m.pool.entries[spec.ProfileName]; ok {
		e.closed = true
		e.client.Close()
		delete(m.pool.entries, spec.ProfileName)
	}
}

type captureWriter struct {
	inline           bytes.Buffer
	maxCapture       int64
	maxInline        int64
	total            int64
	captureTruncated bool
	inlineTruncated  bool
	mirror           *artifacts.Writer
	streamMode       StreamMode
}

func newCaptureWriter(maxCapture, maxInline int64) *captureWriter {
	return &captureWriter{maxCapture: maxCapture, maxInline: maxInline}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.mirror != nil {
		mirrorP := p
		if c.streamMode == StreamCapped {
			budget := c.maxCapture - c.total
			if budget < 0 {
				budget = 0
			}
			if int64(len(mirrorP)) > budget {
				mirrorP = mirrorP[:budget]
			}
		}
		if len(mirrorP) > 0 {
			c.mirror.Write(mirrorP)
		}
	}
	c.total += int64(len(p))
	remaining := c.maxInline - int64(c.inline.Len())
	if remaining > 0 {
		take := p
		if int64(len(take)) > remaining {
			take = take[:remaining]
			c.inlineTruncated = true
		}
		c.inline.Write(take)
	} else if len(p) > 0 {
		c.inlineTruncated = true
	}
	if c.total > c.maxCapture {
		c.captureTruncated = true
	}
	return len(p), nil
}
