package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/envelope"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/jobs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/sshmgr"
)

func (e *Executor) dispatchSSH(ctx context.Context, action, profileName string, args map[string]interface{}, trace envelope.Trace) (interface{}, error) {
	switch action {
	case "exec", "exec_detached", "exec_follow":
		return e.sshExecAction(ctx, action, profileName, args, trace)
	case "job_status":
		return e.sshJobStatus(ctx, args)
	case "job_kill":
		return e.sshJobKill(ctx, args)
	case "job_wait":
		return e.sshJobWait(ctx, args)
	case "follow_job":
		return e.sshFollowJob(ctx, args)
	case "tail_job":
		return e.sshTailJob(ctx, args)
	case "jobs_list":
		return e.sshJobsList(args)
	case "jobs_cancel":
		return e.sshJobKill(ctx, args)
	case "jobs_forget":
		return e.sshJobsForget(args)
	case "sftp_exists":
		return e.sshSFTPExists(ctx, profileName, args)
	case "sftp_upload":
		return e.sshSFTPUpload(ctx, profileName, args)
	case "sftp_download":
		return e.sshSFTPDownload(ctx, profileName, args)
	case "deploy_file":
		return e.sshDeployFile(ctx, profileName, args)
	case "authorized_keys_add":
		return e.sshAuthorizedKeysAdd(ctx, profileName, args)
	case "authorized_keys_list":
		return e.sshAuthorizedKeysList(ctx, profileName, args)
	default:
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, fmt.Sprintf("unknown action %q for mcp_ssh_manager", action))
	}
}

// connectionSpecFor builds a sshmgr.ConnectionSpec from a resolved profile
// (decrypted) merged with an inline "connection" argument object, used for
// anonymous one-shot connections when no profile applies.
func (e *Executor) connectionSpecFor(profileName string, args map[string]interface{}) (sshmgr.ConnectionSpec, error) {
	spec := sshmgr.ConnectionSpec{ProfileName: profileName}

	apply := func(data, secrets map[string]interface{}) {
		if s, ok := data["host"].(string); ok {
			spec.Host = s
		}
		if p := int64Arg(data, "port"); p != 0 {
			spec.Port = int(p)
		}
		if s, ok := data["user"].(string); ok {
			spec.User = s
		}
		if s, ok := data["host_key_policy"].(string); ok {
			spec.HostKeyPolicy = sshmgr.HostKeyMode(s)
		}
		if s, ok := data["host_key_fingerprint_sha256"].(string); ok {
			spec.HostKeyFingerprintSHA256 = s
		}
		if b, ok := data["use_agent"].(bool); ok {
			spec.UseAgent = b
		}
		if secrets != nil {
			if s, ok := secrets["password"].(string); ok {
				spec.Password = s
			}
			if s, ok := secrets["private_key_pem"].(string); ok {
				spec.PrivateKeyPEM = s
			}
			if s, ok := secrets["private_key_passphrase"].(string); ok {
				spec.PrivateKeyPassphrase = s
			}
		}
	}

	if profileName != "" {
		p, err := e.Profiles.GetInternal(profileName)
		if err != nil {
			return spec, err
		}
		apply(p.Data, p.Secrets)
	}

	if inline, ok := args["connection"].(map[string]interface{}); ok {
		apply(inline, inline)
	}

	if spec.Host == "" {
		return spec, errs.InvalidParams("SSH_CONNECTION_REQUIRED", "no ssh profile or inline connection supplied")
	}
	return spec, nil
}

func (e *Executor) sshExecAction(ctx context.Context, action, profileName string, args map[string]interface{}, trace envelope.Trace) (interface{}, error) {
	conn, err := e.connectionSpecFor(profileName, args)
	if err != nil {
		return nil, err
	}

	switch action {
	case "exec":
		req := sshmgr.ExecRequest{
			Connection: conn,
			Command:    stringArg(args, "command"),
			Cwd:        stringArg(args, "cwd"),
			Env:        stringMapArg(args, "env"),
			Stdin:      stringArg(args, "stdin"),
			PTY:        boolArg(args, "pty"),
			TimeoutMs:  int64Arg(args, "timeout_ms"),
			Budget:     e.toolCallBudget(),
			Artifacts:  e.Artifacts,
			TraceID:    trace.TraceID,
			SpanID:     trace.SpanID,
		}
		result, job, err := e.SSH.Exec(ctx, req)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return execResultWithJob(result, job), nil
		}
		return result, nil
	case "exec_detached":
		job, err := e.SSH.ExecDetached(ctx, sshmgr.ExecDetachedRequest{
			Connection:     conn,
			Command:        stringArg(args, "command"),
			Cwd:            stringArg(args, "cwd"),
			Env:            stringMapArg(args, "env"),
			LogPath:        stringArg(args, "log_path"),
			PidPath:        stringArg(args, "pid_path"),
			ExitPath:       stringArg(args, "exit_path"),
			StartTimeoutMs: int64Arg(args, "start_timeout_ms"),
			TraceID:        trace.TraceID,
			SpanID:         trace.SpanID,
		})
		if err != nil {
			return nil, err
		}
		return jobStarted(job), nil
	case "exec_follow":
		job, err := e.SSH.ExecDetached(ctx, sshmgr.ExecDetachedRequest{
			Connection:     conn,
			Command:        stringArg(args, "command"),
			Cwd:            stringArg(args, "cwd"),
			Env:            stringMapArg(args, "env"),
			StartTimeoutMs: int64Arg(args, "start_timeout_ms"),
			TraceID:        trace.TraceID,
			SpanID:         trace.SpanID,
		})
		if err != nil {
			return nil, err
		}
		timeout := durationMsArg(args, "timeout_ms", e.toolCallBudget())
		interval := durationMsArg(args, "poll_interval_ms", time.Second)
		return e.SSH.FollowJob(ctx, job, timeout, interval)
	default:
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, action)
	}
}

func durationMsArg(args map[string]interface{}, key string, def time.Duration) time.Duration {
	ms := int64Arg(args, key)
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func execResultWithJob(result *sshmgr.ExecResult, job *jobs.Job) map[string]interface{} {
	out := map[string]interface{}{
		"success":              result.Success,
		"command":              result.Command,
		"detached":             true,
		"job_id":               job.JobID,
		"requested_timeout_ms": result.RequestedTimeoutMs,
	}
	return out
}

func jobStarted(job *jobs.Job) map[string]interface{} {
	return map[string]interface{}{
		"job_id": job.JobID,
		"status": string(job.Status),
		"pid":    job.Provider.PID,
	}
}

func (e *Executor) jobByID(args map[string]interface{}) (*jobs.Job, error) {
	id := stringArg(args, "job_id")
	job, ok := e.Jobs.Get(id)
	if !ok {
		return nil, errs.New(errs.KindNotFound, errs.CodeUnknownJob, fmt.Sprintf("unknown job %q", id))
	}
	return job, nil
}

func (e *Executor) sshJobStatus(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	job, err := e.jobByID(args)
	if err != nil {
		return nil, err
	}
	return e.SSH.JobStatus(ctx, job)
}

func (e *Executor) sshJobKill(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	job, err := e.jobByID(args)
	if err != nil {
		return nil, err
	}
	signal := stringArg(args, "signal")
	reason := stringArg(args, "reason")
	updated, err := e.SSH.JobKill(ctx, job, signal, reason)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"job_id": updated.JobID, "status": string(updated.Status)}, nil
}

func (e *Executor) sshJobWait(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	job, err := e.jobByID(args)
	if err != nil {
		return nil, err
	}
	timeout := durationMsArg(args, "timeout_ms", e.toolCallBudget())
	interval := durationMsArg(args, "poll_interval_ms", time.Second)
	return e.SSH.JobWait(ctx, job, timeout, interval)
}

func (e *Executor) sshFollowJob(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	job, err := e.jobByID(args)
	if err != nil {
		return nil, err
	}
	timeout := durationMsArg(args, "timeout_ms", e.toolCallBudget())
	interval := durationMsArg(args, "poll_interval_ms", time.Second)
	return e.SSH.FollowJob(ctx, job, timeout, interval)
}

func (e *Executor) sshTailJob(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	job, err := e.jobByID(args)
	if err != nil {
		return nil, err
	}
	maxBytes := int64Arg(args, "max_bytes")
	return e.SSH.TailJob(ctx, job, maxBytes)
}

func (e *Executor) sshJobsList(args map[string]interface{}) (interface{}, error) {
	opts := jobs.ListOptions{
		Status: jobs.Status(stringArg(args, "status")),
		Limit:  int(int64Arg(args, "limit")),
	}
	return e.Jobs.List(opts), nil
}

func (e *Executor) sshJobsForget(args map[string]interface{}) (interface{}, error) {
	id := stringArg(args, "job_id")
	ok := e.Jobs.Forget(id)
	return map[string]interface{}{"job_id": id, "forgotten": ok}, nil
}

func (e *Executor) sshSFTPExists(ctx context.Context, profileName string, args map[string]interface{}) (interface{}, error) {
	conn, err := e.connectionSpecFor(profileName, args)
	if err != nil {
		return nil, err
	}
	ok, err := e.SSH.SFTPExists(ctx, conn, stringArg(args, "remote_path"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"exists": ok}, nil
}

func (e *Executor) sshSFTPUpload(ctx context.Context, profileName string, args map[string]interface{}) (interface{}, error) {
	conn, err := e.connectionSpecFor(profileName, args)
	if err != nil {
		return nil, err
	}
	req := sshmgr.SFTPUploadRequest{
		Connection:      conn,
		LocalPath:       stringArg(args, "local_path"),
		RemotePath:      stringArg(args, "remote_path"),
		Overwrite:       boolArg(args, "overwrite"),
		EnsureRemoteDir: boolArg(args, "ensure_remote_dir"),
	}
	if err := e.SSH.SFTPUpload(ctx, req); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "remote_path": req.RemotePath}, nil
}

func (e *Executor) sshSFTPDownload(ctx context.Context, profileName string, args map[string]interface{}) (interface{}, error) {
	conn, err := e.connectionSpecFor(profileName, args)
	if err != nil {
		return nil, err
	}
	req := sshmgr.SFTPDownloadRequest{
		Connection: conn,
		RemotePath: stringArg(args, "remote_path"),
		LocalPath:  stringArg(args, "local_path"),
		Overwrite:  boolArg(args, "overwrite"),
	}
	if err := e.SSH.SFTPDownload(ctx, req); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "local_path": req.LocalPath}, nil
}

func (e *Executor) sshDeployFile(ctx context.Context, profileName string, args map[string]interface{}) (interface{}, error) {
	conn, err := e.connectionSpecFor(profileName, args)
	if err != nil {
		return nil, err
	}
	req := sshmgr.DeployFileRequest{
		Connection:      conn,
		LocalPath:       stringArg(args, "local_path"),
		RemotePath:      stringArg(args, "remote_path"),
		EnsureRemoteDir: true,
		Restart:         stringArg(args, "restart"),
		RestartCommand:  stringArg(args, "restart_command"),
	}
	return e.SSH.DeployFile(ctx, req)
}

func (e *Executor) sshAuthorizedKeysAdd(ctx context.Context, profileName string, args map[string]interface{}) (interface{}, error) {
	conn, err := e.connectionSpecFor(profileName, args)
	if err != nil {
		return nil, err
	}
	return e.SSH.AuthorizedKeysAdd(ctx, conn, stringArg(args, "key_line"))
}

func (e *Executor) sshAuthorizedKeysList(ctx context.Context, profileName string, args map[string]interface{}) (interface{}, error) {
	conn, err := e.connectionSpecFor(profileName, args)
	if err != nil {
		return nil, err
	}
	return e.SSH.AuthorizedKeysList(ctx, conn)
}

// execSourceFrom adapts the redacted, JSON-shaped dispatch result (already
// round-tripped through encoding/json by the time it reaches here) into the
// envelope's common exec shape. Both sshmgr.ExecResult and localexec.Result
// serialize to this same map of json-tagged keys.
func execSourceFrom(result interface{}) (envelope.ExecSource, interface{}, interface{}) {
	v, ok := result.(map[string]interface{})
	if !ok {
		return envelope.ExecSource{}, nil, nil
	}
	src := envelope.ExecSource{
		Success:         boolField(v, "success"),
		ExitCode:        int(numField(v, "exit_code")),
		TimedOut:        boolField(v, "timed_out"),
		DurationMs:      int64(numField(v, "duration_ms")),
		Stdout:          stringField(v, "stdout"),
		Stderr:          stringField(v, "stderr"),
		StdoutBytes:     int64(numField(v, "stdout_bytes")),
		StderrBytes:     int64(numField(v, "stderr_bytes")),
		StdoutTruncated: boolField(v, "stdout_truncated"),
		StderrTruncated: boolField(v, "stderr_truncated"),
		Detached:        boolField(v, "detached"),
		JobID:           stringField(v, "job_id"),
	}
	if src.JobID != "" {
		src.Detached = true
	}
	return src, v["wait"], v["status"]
}

func boolField(v map[string]interface{}, key string) bool {
	b, _ := v[key].(bool)
	return b
}

func stringField(v map[string]interface{}, key string) string {
	s, _ := v[key].(string)
	return s
}

func numField(v map[string]interface{}, key string) float64 {
	n, _ := v[key].(float64)
	return n
}
