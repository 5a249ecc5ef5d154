// Package executor implements ToolExecutor: the request pipeline that takes
// a raw (tool, action, arguments) call and turns it into a wire envelope,
// running alias normalization, schema validation, identifier/profile
// resolution, secret materialization, policy enforcement, dispatch,
// shaping, redaction, and artifact persistence in that order.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/argnorm"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/artifacts"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/config"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/contextfmt"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/envelope"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/external"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/jobs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/localexec"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/policy"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/profiles"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/project"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/redact"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/schema"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/secretref"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/shape"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/sshmgr"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/state"
)

// Dispatcher is the generic dispatch seam for tool families that live
// outside sshmgr/localexec (Postgres, HTTP, Vault, workspace runbooks).
// internal/external's default implementations satisfy this so the executor
// never needs to know their concrete types.
type Dispatcher interface {
	Dispatch(ctx context.Context, action, profileName string, args map[string]interface{}) (interface{}, error)
}

// Executor wires every pipeline collaborator together.
type Executor struct {
	Config      *config.Config
	Schemas     *schema.Registry
	Profiles    *profiles.Store
	Projects    *project.Store
	State       *state.Store
	Policy      *policy.Service
	SSH         *sshmgr.Manager
	Jobs        *jobs.Registry
	Artifacts   *artifacts.Store
	SecretRefs  *secretref.Resolver
	Dispatchers map[string]Dispatcher
	Audit       external.AuditLogWriter

	clock func() time.Time
}

func New(cfg *config.Config, schemas *schema.Registry, profileStore *profiles.Store, projects *project.Store, st *state.Store, pol *policy.Service, ssh *sshmgr.Manager, jobRegistry *jobs.Registry, artifactStore *artifacts.Store, secretRefs *secretref.Resolver, dispatchers map[string]Dispatcher, audit external.AuditLogWriter) *Executor {
	if dispatchers == nil {
		dispatchers = map[string]Dispatcher{}
	}
	if audit == nil {
		audit = external.NopAuditLogWriter{}
	}
	return &Executor{
		Config:      cfg,
		Schemas:     schemas,
		Profiles:    profileStore,
		Projects:    projects,
		State:       st,
		Policy:      pol,
		SSH:         ssh,
		Jobs:        jobRegistry,
		Artifacts:   artifactStore,
		SecretRefs:  secretRefs,
		Dispatchers: dispatchers,
		Audit:       audit,
		clock:       time.Now,
	}
}

// Request is one inbound tool call.
type Request struct {
	Tool         string
	Action       string
	Arguments    map[string]interface{}
	ResponseMode string
	Preset       map[string]interface{}
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// exec-family (tool, action) pairs get the exec envelope shape; everything
// else gets the generic one.
var execFamily = map[string]map[string]bool{
	"mcp_ssh_manager":   {"exec": true, "exec_detached": true, "exec_follow": true},
	"mcp_repo_manager":  {"exec": true},
	"mcp_local_manager": {"exec": true},
}

func isExecFamily(tool, action string) bool {
	return execFamily[tool] != nil && execFamily[tool][action]
}

// writeIntents names the (tool, action) pairs that mutate remote state and
// therefore require a policy guard before dispatch.
var writeIntents = map[string]map[string]string{
	"mcp_ssh_manager": {
		"exec":                 "ssh.exec",
		"exec_detached":        "ssh.exec",
		"exec_follow":          "ssh.exec",
		"job_kill":             "ssh.job_kill",
		"jobs_cancel":          "ssh.job_kill",
		"sftp_upload":          "ssh.sftp_write",
		"sftp_download":        "ssh.sftp_write",
		"deploy_file":          "ssh.deploy_file",
		"authorized_keys_add":  "ssh.authorized_keys_add",
	},
	"mcp_repo_manager":  {"exec": "repo.exec"},
	"mcp_local_manager": {"exec": "local.exec"},
	"mcp_psql_manager":  {"query": "psql.query"},
	"mcp_http_manager":  {"request": "http.request"},
}

func intentFor(tool, action string) (string, bool) {
	m, ok := writeIntents[tool]
	if !ok {
		return "", false
	}
	intent, ok := m[action]
	return intent, ok
}

// Execute runs the full pipeline and returns the wire envelope (either
// *envelope.Generic or *envelope.Exec) plus whatever manager error occurred,
// already embedded in the envelope's Error field where applicable.
func (e *Executor) Execute(ctx context.Context, req Request) (interface{}, error) {
	started := e.clock()
	trace := envelope.Trace{TraceID: req.TraceID, SpanID: req.SpanID, ParentSpanID: req.ParentSpanID}

	// Step 1: response mode.
	mode := req.ResponseMode
	if mode == "" {
		mode = "ai"
	}
	if mode != "ai" && mode != "compact" {
		return e.failGeneric(req, trace, errs.InvalidParams("INVALID_RESPONSE_MODE", fmt.Sprintf("unknown response mode %q", mode))), nil
	}

	args := cloneArgs(req.Arguments)

	// Step 2: inline defaults for repo/local exec under non-ai (machine) modes.
	if mode != "ai" && (req.Tool == "mcp_repo_manager" || req.Tool == "mcp_local_manager") && req.Action == "exec" {
		if _, set := args["inline"]; !set {
			args["inline"] = true
		}
	}

	// Step 3: normalize aliases.
	canonicalTool := argnorm.CanonicalTool(req.Tool)
	normReport := argnorm.Normalize(canonicalTool, args)
	var norm *envelope.Normalization
	if !normReport.Empty() {
		norm = &envelope.Normalization{}
		for _, r := range normReport.Renamed {
			norm.Renamed = append(norm.Renamed, envelope.RenamedArg{From: r.From, To: r.To})
		}
		for _, ig := range normReport.Ignored {
			norm.Ignored = append(norm.Ignored, envelope.IgnoredArg{From: ig.From, To: ig.To, Reason: ig.Reason})
		}
	}

	// Step 4: validate.
	if verr := e.Schemas.Validate(canonicalTool, req.Action, args); verr != nil {
		return e.failGeneric(req, trace, verr), nil
	}

	// Step 5: merge preset then (already-normalized) arguments, last wins.
	merged := cloneArgs(req.Preset)
	for k, v := range args {
		merged[k] = v
	}

	durationMs := func() *int64 {
		d := e.clock().Sub(started).Milliseconds()
		return &d
	}

	result, secretValues, execErr := e.dispatchPipeline(ctx, canonicalTool, req.Action, merged, trace)
	if execErr != nil {
		bErr, ok := errs.As(execErr)
		if !ok {
			bErr = errs.Internal(execErr)
		}
		return e.finish(req, canonicalTool, trace, false, nil, bErr, durationMs(), norm, secretValues), nil
	}

	return e.finish(req, canonicalTool, trace, true, result, nil, durationMs(), norm, secretValues), nil
}

// dispatchPipeline runs steps 6-11: identifier/profile resolution, secret
// materialization, policy guard, dispatch, and output shaping. It returns
// the shaped result (still containing secrets, pre-redaction), the secret
// values materialized along the way (for redactor tracking), or a tagged
// error.
func (e *Executor) dispatchPipeline(ctx context.Context, tool, action string, args map[string]interface{}, trace envelope.Trace) (interface{}, []string, error) {
	// Artifacts and workspace tools need no project/profile/policy plumbing.
	if tool == "artifacts" {
		result, err := e.dispatchArtifacts(ctx, action, args)
		return result, nil, err
	}

	resolved, err := e.resolveProject(args)
	if err != nil {
		return nil, nil, err
	}

	profileName, profileType, err := e.resolveProfile(tool, args, resolved)
	if err != nil {
		return nil, nil, err
	}

	materialized, secretValues, err := e.SecretRefs.Resolve(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	margs, _ := materialized.(map[string]interface{})
	if margs == nil {
		margs = args
	}

	if profileName != "" && e.Profiles != nil {
		if p, perr := e.Profiles.GetInternal(profileName); perr == nil {
			secretValues = append(secretValues, p.SecretStrings()...)
		}
	}

	secretValues = append(secretValues, envSecretValues(margs)...)

	pol := policyFor(resolved)
	if intent, needsGuard := intentFor(tool, action); needsGuard {
		lockKey := lockKeyFor(tool, resolved, margs)
		guard, err := e.Policy.Enforce(pol, intent, remoteArg(margs), namespaceArg(margs), lockKey, trace.TraceID)
		if err != nil {
			return nil, secretValues, err
		}
		defer guard.Release()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.toolCallBudget())
	defer cancel()

	raw, err := e.dispatch(callCtx, tool, action, profileName, profileType, margs, resolved, trace, secretValues)
	if err != nil {
		return nil, secretValues, err
	}

	shaped, err := applyOutputShape(margs, raw)
	if err != nil {
		return nil, secretValues, err
	}
	e.persistStoreAs(margs, shaped)

	return shaped, secretValues, nil
}

func policyFor(resolved *project.Resolved) *policy.Policy {
	if resolved == nil {
		return nil
	}
	return resolved.Policy
}

func lockKeyFor(tool string, resolved *project.Resolved, args map[string]interface{}) string {
	if tool == "mcp_repo_manager" {
		if cwd, _ := args["cwd"].(string); cwd != "" {
			return policy.LockKeyForRepo(cwd)
		}
	}
	if resolved != nil {
		return policy.LockKeyForTarget(resolved.ProjectName, resolved.TargetName)
	}
	return ""
}

func remoteArg(args map[string]interface{}) string {
	s, _ := args["remote"].(string)
	return s
}

func namespaceArg(args map[string]interface{}) string {
	s, _ := args["namespace"].(string)
	return s
}

func (e *Executor) toolCallBudget() time.Duration {
	if e.Config != nil && e.Config.ToolCallTimeout > 0 {
		return e.Config.ToolCallTimeout
	}
	return 55 * time.Second
}

// resolveProject implements step 6. Tools with no project concept
// (mcp_repo_manager/mcp_local_manager without a project binding) tolerate a
// nil Resolved.
func (e *Executor) resolveProject(args map[string]interface{}) (*project.Resolved, error) {
	explicitProject, _ := args["project"].(string)
	explicitTarget := firstSynonym(args, project.TargetSynonyms)

	active := ""
	if e.State != nil {
		if v, ok := e.State.Get(state.ScopeSession, project.ActiveProjectStateKey); ok {
			active, _ = v.(string)
		}
	}

	if e.Projects == nil || (explicitProject == "" && active == "" && len(e.Projects.Names()) == 0) {
		return nil, nil
	}

	resolved, err := e.Projects.Resolve(explicitProject, explicitTarget, active)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func firstSynonym(args map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// resolveProfile implements step 7: explicit arg, then target binding, then
// unique-profile auto-pick.
func (e *Executor) resolveProfile(tool string, args map[string]interface{}, resolved *project.Resolved) (string, profiles.Type, error) {
	profileType, ok := profileTypeForTool(tool)
	if !ok {
		return "", "", nil
	}

	if name, _ := args["profile"].(string); name != "" {
		return name, profileType, nil
	}

	if resolved != nil {
		if name := bindingProfile(resolved.Binding, profileType); name != "" {
			return name, profileType, nil
		}
	}

	if e.Profiles == nil {
		return "", profileType, nil
	}
	var matches []string
	for _, p := range e.Profiles.List(false, false) {
		if p.Type == profileType {
			matches = append(matches, p.Name)
		}
	}
	if len(matches) == 1 {
		return matches[0], profileType, nil
	}
	if len(matches) == 0 {
		// Anonymous inline connection is still legal for ssh; other
		// families require a profile.
		if tool == "mcp_ssh_manager" {
			return "", profileType, nil
		}
		return "", "", errs.InvalidParams("PROFILE_REQUIRED", fmt.Sprintf("no %s profile is configured", profileType))
	}
	return "", "", errs.New(errs.KindInvalidParams, errs.CodeAmbiguousProfile, fmt.Sprintf("%d %s profiles exist; specify one", len(matches), profileType)).
		WithDetails(map[string]interface{}{"known_profiles": matches})
}

func profileTypeForTool(tool string) (profiles.Type, bool) {
	switch tool {
	case "mcp_ssh_manager":
		return profiles.TypeSSH, true
	case "mcp_psql_manager":
		return profiles.TypePostgres, true
	case "mcp_http_manager":
		return profiles.TypeAPI, true
	case "mcp_vault_manager":
		return profiles.TypeVault, true
	default:
		return "", false
	}
}

func bindingProfile(b project.TargetBinding, t profiles.Type) string {
	switch t {
	case profiles.TypeSSH:
		return b.SSHProfile
	case profiles.TypePostgres:
		return b.PostgresProfile
	case profiles.TypeAPI:
		return b.APIProfile
	case profiles.TypeVault:
		return b.VaultProfile
	default:
		return ""
	}
}

// dispatch implements step 10, fanning out to the right manager.
func (e *Executor) dispatch(ctx context.Context, tool, action, profileName string, profileType profiles.Type, args map[string]interface{}, resolved *project.Resolved, trace envelope.Trace, secretValues []string) (interface{}, error) {
	switch tool {
	case "mcp_ssh_manager":
		return e.dispatchSSH(ctx, action, profileName, args, trace)
	case "mcp_repo_manager":
		return e.dispatchRepoExec(ctx, action, args, resolved, trace)
	case "mcp_local_manager":
		return e.dispatchLocalExec(ctx, action, args, trace)
	default:
		d, ok := e.Dispatchers[tool]
		if !ok {
			return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownTool, fmt.Sprintf("unknown tool %q", tool))
		}
		return d.Dispatch(ctx, action, profileName, args)
	}
}

func (e *Executor) dispatchLocalExec(ctx context.Context, action string, args map[string]interface{}, trace envelope.Trace) (interface{}, error) {
	if action != "exec" {
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, fmt.Sprintf("unknown action %q for mcp_local_manager", action))
	}
	req := localexec.Request{
		Command:   stringArg(args, "command"),
		Cwd:       stringArg(args, "cwd"),
		Env:       stringMapArg(args, "env"),
		TimeoutMs: int64Arg(args, "timeout_ms"),
		Budget:    e.toolCallBudget(),
	}
	return localexec.Run(ctx, req)
}

func applyOutputShape(args map[string]interface{}, result interface{}) (interface{}, error) {
	outputRaw, ok := args["output"].(map[string]interface{})
	if !ok {
		return result, nil
	}
	spec := shape.ParseSpec(outputRaw)
	jsonValue, err := toJSONValue(result)
	if err != nil {
		return nil, errs.Internal(err)
	}
	return shape.Apply(spec, jsonValue)
}

func (e *Executor) persistStoreAs(args map[string]interface{}, shaped interface{}) {
	key, _ := args["store_as"].(string)
	if key == "" || e.State == nil {
		return
	}
	scope := state.ScopeSession
	if s, _ := args["store_scope"].(string); s == string(state.ScopePersistent) {
		scope = state.ScopePersistent
	}
	_ = e.State.Set(scope, key, shaped)
}

// finish implements steps 12-14: redact, persist artifacts, build envelope.
func (e *Executor) finish(req Request, tool string, trace envelope.Trace, success bool, result interface{}, callErr *errs.Error, durationMs *int64, norm *envelope.Normalization, secretValues []string) interface{} {
	redactor := redact.New()
	if e.Profiles != nil {
		for _, p := range e.Profiles.List(true, true) {
			redactor.TrackSecrets(p.SecretStrings()...)
		}
	}
	redactor.TrackSecrets(secretValues...)

	var redacted interface{}
	if result != nil {
		jsonValue, err := toJSONValue(result)
		if err == nil {
			redacted = redactor.Redact(jsonValue)
		} else {
			redacted = result
		}
	}

	artifactURIJSON := ""
	artifactURIContext := ""
	artifactWriteFailed := false
	if e.Artifacts != nil {
		env := buildEnvelopeValue(tool, req.Action, success, redacted, trace, durationMs, norm, callErr)
		if data, err := json.Marshal(env); err == nil {
			if art, werr := e.Artifacts.WriteBinary(artifacts.RelForRun(trace.TraceID, trace.SpanID, "result.json"), data); werr == nil {
				artifactURIJSON = art.URI
			} else {
				artifactWriteFailed = true
			}
		} else {
			artifactWriteFailed = true
		}
		contextBody := contextBodyFor(tool, req.Action, success, redacted, callErr)
		if art, werr := e.Artifacts.WriteText(artifacts.RelForRun(trace.TraceID, trace.SpanID, "result.context"), redactor.RedactText(contextBody)); werr == nil {
			artifactURIContext = art.URI
		} else {
			artifactWriteFailed = true
		}
	}

	e.writeAudit(req, tool, trace, success, durationMs, callErr)

	if isExecFamily(tool, req.Action) {
		return e.buildExecEnvelope(tool, req.Action, redacted, callErr, trace, durationMs, artifactURIJSON, artifactWriteFailed)
	}

	g := envelope.BuildGeneric(tool, req.Action, success, redacted, durationMs, trace, norm)
	g.ArtifactURIJSON = artifactURIJSON
	g.ArtifactURIContext = artifactURIContext
	g.Error = callErr
	g.ArtifactWriteFailed = artifactWriteFailed
	return g
}

// writeAudit appends one line to the audit trail. Best-effort: a logging
// failure never changes the outcome of the call it's recording.
func (e *Executor) writeAudit(req Request, tool string, trace envelope.Trace, success bool, durationMs *int64, callErr *errs.Error) {
	if e.Audit == nil {
		return
	}
	intent, _ := intentFor(tool, req.Action)
	var ms int64
	if durationMs != nil {
		ms = *durationMs
	}
	var errorCode string
	if callErr != nil {
		errorCode = callErr.Code
	}
	_ = e.Audit.Write(external.AuditEvent{
		Timestamp:  e.clock(),
		TraceID:    trace.TraceID,
		Tool:       tool,
		Action:     req.Action,
		Intent:     intent,
		Remote:     remoteArg(req.Arguments),
		Success:    success,
		DurationMs: ms,
		ErrorCode:  errorCode,
	})
}

// contextBodyFor renders the .context companion body, using the richer
// exec-result layout for exec-family calls and a plain note otherwise.
func contextBodyFor(tool, action string, success bool, result interface{}, callErr *errs.Error) string {
	if isExecFamily(tool, action) {
		src, _, _ := execSourceFrom(result)
		errMessage := ""
		if callErr != nil {
			errMessage = callErr.Message
		}
		return contextfmt.ForExecResult(fmt.Sprintf("%s/%s", tool, action), previewOf(src.Stdout), previewOf(src.Stderr), success, errMessage, nil)
	}
	return contextfmt.Render([]contextfmt.Line{contextfmt.Note(fmt.Sprintf("%s/%s", tool, action))})
}

func previewOf(s string) string {
	const maxPreview = 2048
	if len(s) > maxPreview {
		return s[:maxPreview] + "...[truncated]"
	}
	return s
}

func buildEnvelopeValue(tool, action string, success bool, result interface{}, trace envelope.Trace, durationMs *int64, norm *envelope.Normalization, callErr *errs.Error) interface{} {
	g := envelope.BuildGeneric(tool, action, success, result, durationMs, trace, norm)
	g.Error = callErr
	return g
}

func (e *Executor) buildExecEnvelope(tool, action string, result interface{}, callErr *errs.Error, trace envelope.Trace, durationMs *int64, artifactURIJSON string, artifactWriteFailed bool) *envelope.Exec {
	src, wait, status := execSourceFrom(result)
	summary := execSummary(src, callErr)
	if callErr != nil {
		src.Success = false
	}
	return envelope.BuildExec(tool, action, src, trace, summary, artifactURIJSON, wait, status, artifactWriteFailed)
}

func execSummary(src envelope.ExecSource, callErr *errs.Error) string {
	if callErr != nil {
		return callErr.Message
	}
	if src.Detached {
		return fmt.Sprintf("job %s started", src.JobID)
	}
	if src.Success {
		return fmt.Sprintf("exit %d", src.ExitCode)
	}
	return fmt.Sprintf("exit %d", src.ExitCode)
}

func cloneArgs(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toJSONValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) failGeneric(req Request, trace envelope.Trace, err *errs.Error) *envelope.Generic {
	g := envelope.BuildGeneric(req.Tool, req.Action, false, nil, nil, trace, nil)
	g.Error = err
	return g
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func int64Arg(args map[string]interface{}, key string) int64 {
	switch n := args[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func boolArg(args map[string]interface{}, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func stringMapArg(args map[string]interface{}, key string) map[string]string {
	raw, ok := args[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// envSecretValues returns the "env" map's string values that are long
// enough to be worth redacting, so a command that echoes an env var back
// out doesn't leak it into the envelope or .context artifact unredacted.
func envSecretValues(args map[string]interface{}) []string {
	env := stringMapArg(args, "env")
	if env == nil {
		return nil
	}
	var out []string
	for _, v := range env {
		if len(v) >= 6 {
			out = append(out, v)
		}
	}
	return out
}
