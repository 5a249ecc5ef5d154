// Package envelope builds the two wire envelope shapes the broker returns
// as tool_call content: the generic result envelope and the exec envelope
// shared by the SSH/repo/local exec tool families.
package envelope

import "github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"

// Trace identifies a tool call within its parent conversation.
type Trace struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// Normalization reports argnorm's rename/ignore decisions, if any occurred.
type Normalization struct {
	Renamed []RenamedArg `json:"renamed,omitempty"`
	Ignored []IgnoredArg `json:"ignored,omitempty"`
}

type RenamedArg struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type IgnoredArg struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// Generic is the envelope used by every non-exec tool action.
type Generic struct {
	Success            bool           `json:"success"`
	Tool               string         `json:"tool"`
	Action             string         `json:"action,omitempty"`
	Result             interface{}    `json:"result"`
	DurationMs         *int64         `json:"duration_ms,omitempty"`
	ArtifactURIContext string         `json:"artifact_uri_context,omitempty"`
	ArtifactURIJSON    string         `json:"artifact_uri_json,omitempty"`
	Trace              Trace          `json:"trace"`
	Normalization      *Normalization `json:"normalization,omitempty"`
	Error              *errs.Error    `json:"error,omitempty"`
	ArtifactWriteFailed bool          `json:"artifact_write_failed,omitempty"`
}

// NextAction is one suggested follow-up call.
type NextAction struct {
	Tool   string                 `json:"tool"`
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// Exec is the envelope used by ssh/repo/local exec*-family actions.
type Exec struct {
	Success         bool                   `json:"success"`
	Tool            string                 `json:"tool"`
	Action          string                 `json:"action"`
	Mode            string                 `json:"mode"`
	ExitCode        *int                   `json:"exit_code"`
	TimedOut        bool                   `json:"timed_out"`
	DurationMs      int64                  `json:"duration_ms"`
	Stdout          string                 `json:"stdout"`
	Stderr          string                 `json:"stderr"`
	StdoutBytes     int64                  `json:"stdout_bytes"`
	StderrBytes     int64                  `json:"stderr_bytes"`
	StdoutTruncated bool                   `json:"stdout_truncated"`
	StderrTruncated bool                   `json:"stderr_truncated"`
	JobID           *string                `json:"job_id"`
	Wait            interface{}            `json:"wait,omitempty"`
	Status          interface{}            `json:"status,omitempty"`
	NextActions     []NextAction           `json:"next_actions"`
	Trace           Trace                  `json:"trace"`
	Summary         string                 `json:"summary"`
	ArtifactURIJSON string                 `json:"artifact_uri_json,omitempty"`
	ArtifactWriteFailed bool               `json:"artifact_write_failed,omitempty"`
}

const (
	modeSync     = "sync"
	modeDetached = "detached"
)

// BuildGeneric assembles the generic envelope.
func BuildGeneric(tool, action string, success bool, result interface{}, durationMs *int64, trace Trace, norm *Normalization) *Generic {
	return &Generic{
		Success:       success,
		Tool:          tool,
		Action:        action,
		Result:        result,
		DurationMs:    durationMs,
		Trace:         trace,
		Normalization: norm,
	}
}

// ExecSource is the common subset of sshmgr.ExecResult and
// localexec.Result the exec envelope is built from.
type ExecSource struct {
	Success         bool
	ExitCode        int
	TimedOut        bool
	DurationMs      int64
	Stdout          string
	Stderr          string
	StdoutBytes     int64
	StderrBytes     int64
	StdoutTruncated bool
	StderrTruncated bool
	Detached        bool
	JobID           string
}

// BuildExec assembles the exec envelope, deriving next_actions from the
// truncation flags and job presence.
func BuildExec(tool, action string, src ExecSource, trace Trace, summary, artifactURIJSON string, wait, status interface{}, artifactWriteFailed bool) *Exec {
	mode := modeSync
	var jobID *string
	if src.Detached || src.JobID != "" {
		mode = modeDetached
		id := src.JobID
		jobID = &id
	}
	var exitCode *int
	if !src.Detached {
		code := src.ExitCode
		exitCode = &code
	}

	e := &Exec{
		Success:         src.Success,
		Tool:            tool,
		Action:          action,
		Mode:            mode,
		ExitCode:        exitCode,
		TimedOut:        src.TimedOut,
		DurationMs:      src.DurationMs,
		Stdout:          src.Stdout,
		Stderr:          src.Stderr,
		StdoutBytes:     src.StdoutBytes,
		StderrBytes:     src.StderrBytes,
		StdoutTruncated: src.StdoutTruncated,
		StderrTruncated: src.StderrTruncated,
		JobID:           jobID,
		Wait:            wait,
		Status:          status,
		Trace:           trace,
		Summary:         summary,
		ArtifactURIJSON: artifactURIJSON,
		ArtifactWriteFailed: artifactWriteFailed,
	}
	e.NextActions = nextActions(tool, src, jobID)
	return e
}

func nextActions(tool string, src ExecSource, jobID *string) []NextAction {
	var actions []NextAction
	if src.StdoutTruncated {
		actions = append(actions, NextAction{Tool: "artifacts", Action: "tail", Args: map[string]interface{}{"uri": "stdout.log"}})
	}
	if src.StderrTruncated {
		actions = append(actions, NextAction{Tool: "artifacts", Action: "tail", Args: map[string]interface{}{"uri": "stderr.log"}})
	}
	if jobID != nil {
		args := map[string]interface{}{"job_id": *jobID}
		actions = append(actions,
			NextAction{Tool: tool, Action: "follow_job", Args: args},
			NextAction{Tool: tool, Action: "tail_job", Args: args},
			NextAction{Tool: tool, Action: "job_cancel", Args: args},
		)
	}
	return actions
}
