package sshmgr

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/jobs"
)

var numericTokenRe = regexp.MustCompile(`[0-9]+`)

// ExecDetachedRequest starts a backgrounded remote command tracked as a Job.
type ExecDetachedRequest struct {
	Connection     ConnectionSpec
	Command        string
	Cwd            string
	Env            map[string]string
	LogPath        string
	PidPath        string
	ExitPath       string
	StartTimeoutMs int64
	TraceID        string
	SpanID         string
}

func defaultLogPath(jobID string) string { return fmt.Sprintf("/tmp/sentryfrogg-%s.log", jobID) }

// ExecDetached launches command under nohup on the remote host and registers
// a tracked Job with pid/log/exit tri-file markers.
func (m *Manager) ExecDetached(ctx context.Context, req ExecDetachedRequest) (*jobs.Job, error) {
	jobID := jobs.NewJobID()
	logPath := req.LogPath
	if logPath == "" {
		logPath = defaultLogPath(jobID)
	}
	pidPath := req.PidPath
	if pidPath == "" {
		pidPath = logPath + ".pid"
	}
	exitPath := req.ExitPath
	if exitPath == "" {
		exitPath = logPath + ".exit"
	}

	inner := wrapCwd(req.Command, req.Cwd)
	wrapped := fmt.Sprintf(`(%s); rc=$?; echo "$rc" > %s; exit "$rc"`, inner, quotePosix(exitPath))
	launch := fmt.Sprintf(`nohup sh -lc %s > %s 2>&1 < /dev/null & echo $! > %s; cat %s`,
		quotePosix(wrapped), quotePosix(logPath), quotePosix(pidPath), quotePosix(pidPath))

	startTimeout := time.Duration(req.StartTimeoutMs) * time.Millisecond
	if startTimeout <= 0 {
		startTimeout = 10 * time.Second
	}
	result, _, err := m.Exec(ctx, ExecRequest{
		Connection: req.Connection,
		Command:    launch,
		Env:        req.Env,
		TimeoutMs:  startTimeout.Milliseconds(),
		Budget:     m.defaultBudget(),
	})
	if err != nil {
		return nil, err
	}

	pid := 0
	matches := numericTokenRe.FindAllString(result.Stdout, -1)
	if len(matches) > 0 {
		pid, _ = strconv.Atoi(matches[len(matches)-1])
	}

	now := time.Now()
	job := &jobs.Job{
		JobID:     jobID,
		Kind:      "ssh_exec_detached",
		Status:    jobs.StatusRunning,
		CreatedAt: now,
		StartedAt: &now,
		TraceID:   req.TraceID,
		Provider: jobs.Provider{
			Tool:        "ssh",
			ProfileName: req.Connection.ProfileName,
			PID:         pid,
			PIDPath:     pidPath,
			LogPath:     logPath,
			ExitPath:    exitPath,
		},
	}
	m.jobs.Upsert(job)
	return job, nil
}

// ExecFollow runs exec_detached (bounded by a short start timeout) then
// follows the resulting job for the remainder of the global budget.
func (m *Manager) ExecFollow(ctx context.Context, req ExecDetachedRequest, totalBudget time.Duration) (map[string]interface{}, error) {
	started := time.Now()
	job, err := m.ExecDetached(ctx, req)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(started)
	remaining := totalBudget - elapsed
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	wait, err := m.FollowJob(ctx, job, remaining, 1*time.Second)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"start":  job,
		"wait":   wait,
		"status": job.Status,
	}, nil
}

// pollStatus reads a job's liveness and exit state over SSH using the
// __SF_*__ marker protocol.
type pollStatus struct {
	PID      int
	Running  bool
	ExitCode *int
	LogBytes int64
}

func statusScript(pidPath, exitPath, logPath string) string {
	return fmt.Sprintf(`
pid=$(cat %s 2>/dev/null | tr -dc '0-9' | cut -c1-32)
running=0
if [ -n "$pid" ] && kill -0 "$pid" 2>/dev/null; then running=1; fi
ec=""
if [ -f %s ]; then ec=$(cat %s 2>/dev/null | tr -d '\r\n' | cut -c1-64); fi
lb=0
if [ -f %s ]; then lb=$(wc -c < %s 2>/dev/null | tr -d ' '); fi
echo "__SF_PID__=$pid"
echo "__SF_RUNNING__=$running"
echo "__SF_EXIT_CODE__=$ec"
echo "__SF_LOG_BYTES__=$lb"
`, quotePosix(pidPath), quotePosix(exitPath), quotePosix(exitPath), quotePosix(logPath), quotePosix(logPath))
}

func parseStatus(stdout string) pollStatus {
	var st pollStatus
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "__SF_PID__="):
			st.PID, _ = strconv.Atoi(strings.TrimPrefix(line, "__SF_PID__="))
		case strings.HasPrefix(line, "__SF_RUNNING__="):
			st.Running = strings.TrimPrefix(line, "__SF_RUNNING__=") == "1"
		case strings.HasPrefix(line, "__SF_EXIT_CODE__="):
			v := strings.TrimPrefix(line, "__SF_EXIT_CODE__=")
			if v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					st.ExitCode = &n
				}
			}
		case strings.HasPrefix(line, "__SF_LOG_BYTES__="):
			v := strings.TrimPrefix(line, "__SF_LOG_BYTES__=")
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				st.LogBytes = n
			}
		}
	}
	return st
}

// JobStatus polls liveness and exit status for a tracked SSH job.
func (m *Manager) JobStatus(ctx context.Context, job *jobs.Job) (*pollStatus, error) {
	script := statusScript(job.Provider.PIDPath, job.Provider.ExitPath, job.Provider.LogPath)
	result, _, err := m.Exec(ctx, ExecRequest{
		Connection: ConnectionSpec{ProfileName: job.Provider.ProfileName},
		Command:    script,
		TimeoutMs:  10_000,
		Budget:     m.defaultBudget(),
	})
	if err != nil {
		return nil, err
	}
	st := parseStatus(result.Stdout)
	return &st, nil
}

var signalRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// JobKill sends a signal (default TERM) to the remote job's PID.
func (m *Manager) JobKill(ctx context.Context, job *jobs.Job, signal, reason string) (*jobs.Job, error) {
	sig := strings.ToUpper(strings.TrimSpace(signal))
	if sig == "" {
		sig = "TERM"
	}
	if !signalRe.MatchString(sig) {
		return nil, errs.InvalidParams("SSH_INVALID_SIGNAL", fmt.Sprintf("invalid signal %q", signal))
	}
	script := fmt.Sprintf(`pid=$(cat %s 2>/dev/null | tr -dc '0-9' | cut -c1-32); [ -n "$pid" ] && kill -%s "$pid" 2>/dev/null; true`,
		quotePosix(job.Provider.PIDPath), sig)
	if _, _, err := m.Exec(ctx, ExecRequest{
		Connection: ConnectionSpec{ProfileName: job.Provider.ProfileName},
		Command:    script,
		TimeoutMs:  10_000,
		Budget:     m.defaultBudget(),
	}); err != nil {
		return nil, err
	}
	updated, ok := m.jobs.Cancel(job.JobID, reason)
	if !ok {
		return nil, errs.New(errs.KindNotFound, errs.CodeUnknownJob, fmt.Sprintf("job %q not found", job.JobID))
	}
	return updated, nil
}

// JobLogsTail returns the tail of a job's remote log via a size-bounded
// shell read.
func (m *Manager) JobLogsTail(ctx context.Context, job *jobs.Job, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxInline
	}
	script := fmt.Sprintf(`tail -c %d %s 2>/dev/null`, maxBytes, quotePosix(job.Provider.LogPath))
	result, _, err := m.Exec(ctx, ExecRequest{
		Connection: ConnectionSpec{ProfileName: job.Provider.ProfileName},
		Command:    script,
		TimeoutMs:  10_000,
		Budget:     m.defaultBudget(),
	})
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// JobWait polls JobStatus at pollInterval (capped at 5s) until the job
// exits or the wall-clock deadline elapses.
func (m *Manager) JobWait(ctx context.Context, job *jobs.Job, timeout, pollInterval time.Duration) (map[string]interface{}, error) {
	if pollInterval <= 0 || pollInterval > 5*time.Second {
		pollInterval = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var last *pollStatus
	for {
		st, err := m.JobStatus(ctx, job)
		if err != nil {
			return nil, err
		}
		last = st
		if !st.Running {
			code := 0
			if st.ExitCode != nil {
				code = *st.ExitCode
			}
			status := jobs.StatusSucceeded
			if code != 0 {
				status = jobs.StatusFailed
			}
			job.Status = status
			m.jobs.Upsert(job)
			return map[string]interface{}{"exited": true, "exit_code": st.ExitCode, "running": false}, nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errs.Timeout("SSH_JOB_WAIT_TIMEOUT", "job wait canceled")
		case <-time.After(pollInterval):
		}
	}
	return map[string]interface{}{"exited": false, "running": last.Running}, nil
}

// FollowJob waits for a job then appends a final log tail.
func (m *Manager) FollowJob(ctx context.Context, job *jobs.Job, timeout, pollInterval time.Duration) (map[string]interface{}, error) {
	wait, err := m.JobWait(ctx, job, timeout, pollInterval)
	if err != nil {
		return nil, err
	}
	logs, _ := m.JobLogsTail(ctx, job, defaultMaxInline)
	wait["logs"] = logs
	return wait, nil
}

// TailJob is a single status check plus a single log tail, with no polling.
func (m *Manager) TailJob(ctx context.Context, job *jobs.Job, maxBytes int64) (map[string]interface{}, error) {
	st, err := m.JobStatus(ctx, job)
	if err != nil {
		return nil, err
	}
	logs, err := m.JobLogsTail(ctx, job, maxBytes)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"running":   st.Running,
		"exit_code": st.ExitCode,
		"logs":      logs,
	}, nil
}
