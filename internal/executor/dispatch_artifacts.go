package executor

import (
	"context"
	"fmt"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

func (e *Executor) dispatchArtifacts(ctx context.Context, action string, args map[string]interface{}) (interface{}, error) {
	switch action {
	case "get":
		return e.Artifacts.Get(uriToRel(stringArg(args, "uri")), int64Arg(args, "offset"), int64Arg(args, "max_bytes"), boolArg(args, "base64"))
	case "head":
		return e.Artifacts.Head(uriToRel(stringArg(args, "uri")), int64Arg(args, "max_bytes"), boolArg(args, "base64"))
	case "tail":
		return e.Artifacts.Tail(uriToRel(stringArg(args, "uri")), int64Arg(args, "max_bytes"), boolArg(args, "base64"))
	case "list":
		return e.Artifacts.List(stringArg(args, "prefix"), int(int64Arg(args, "limit")))
	default:
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, fmt.Sprintf("unknown action %q for artifacts", action))
	}
}

// uriToRel strips the artifact:// scheme prefix tool calls address artifacts
// by, so callers can pass either the bare rel path or the full URI.
func uriToRel(uri string) string {
	const scheme = "artifact://"
	if len(uri) > len(scheme) && uri[:len(scheme)] == scheme {
		return uri[len(scheme):]
	}
	return uri
}
