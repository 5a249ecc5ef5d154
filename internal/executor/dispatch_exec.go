package executor

import (
	"context"
	"fmt"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/envelope"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/localexec"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/project"
)

func (e *Executor) dispatchRepoExec(ctx context.Context, action string, args map[string]interface{}, resolved *project.Resolved, trace envelope.Trace) (interface{}, error) {
	if action != "exec" {
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, fmt.Sprintf("unknown action %q for mcp_repo_manager", action))
	}

	cwd := stringArg(args, "cwd")
	if cwd == "" && resolved != nil {
		cwd = resolved.Binding.Cwd
	}
	if cwd == "" {
		return nil, errs.InvalidParams("REPO_CWD_REQUIRED", "mcp_repo_manager.exec requires cwd or a project target with a working directory")
	}

	info, err := localexec.ResolveRepo(cwd)
	if err != nil {
		return nil, err
	}

	var allowedRemotes []string
	if resolved != nil && resolved.Policy != nil {
		allowedRemotes = resolved.Policy.Repo.AllowedRemotes
	}
	if err := localexec.EnforceAllowedRemote(info.Origin, allowedRemotes); err != nil {
		return nil, err
	}

	req := localexec.Request{
		Command:        stringArg(args, "command"),
		Cwd:            info.Root,
		TimeoutMs:      int64Arg(args, "timeout_ms"),
		Budget:         e.toolCallBudget(),
		AllowedRemotes: allowedRemotes,
	}
	result, err := localexec.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	result.RepoRoot = info.Root
	result.Branch = info.Branch
	return result, nil
}
