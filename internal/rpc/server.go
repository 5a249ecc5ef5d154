package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/config"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/executor"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/tooldefs"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "sentryfrogg-mcp"
)

// Server reads one JSON-RPC frame per line from its input and writes one
// frame per line back, dispatching tools/call through an Executor.
type Server struct {
	Executor *executor.Executor
	Config   *config.Config
	Version  string
}

// Serve runs the read/dispatch/write loop until r is exhausted or ctx is
// canceled. Malformed lines get a protocol-level error response; everything
// else, including a failed tool call, is a successful frame.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if werr := enc.Encode(Response{JSONRPC: "2.0", Error: &Error{Code: ErrParse, Message: "failed to parse JSON-RPC request"}}); werr != nil {
				return werr
			}
			continue
		}

		if req.JSONRPC != "2.0" {
			if werr := enc.Encode(Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: ErrInvalidRequest, Message: "invalid JSON-RPC version"}}); werr != nil {
				return werr
			}
			continue
		}

		log.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("rpc request received")

		result, rpcErr := s.handleMethod(ctx, req)
		resp := Response{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else if result != nil {
			data, err := json.Marshal(result)
			if err != nil {
				resp.Error = &Error{Code: ErrInternal, Message: "failed to marshal result"}
			} else {
				resp.Result = data
			}
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) handleMethod(ctx context.Context, req Request) (interface{}, *Error) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		return nil, nil
	case "ping":
		return map[string]interface{}{}, nil
	case "tools/list":
		return s.handleListTools(), nil
	case "tools/call":
		return s.handleCallTool(ctx, req.Params)
	default:
		return nil, &Error{Code: ErrMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: "failed to parse initialize params"}
		}
	}
	log.Info().
		Str("client", initParams.ClientInfo.Name).
		Str("client_version", initParams.ClientInfo.Version).
		Msg("client connected")

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: false}},
		ServerInfo:      ServerInfo{Name: ServerName, Version: s.Version},
	}, nil
}

func (s *Server) handleListTools() *ListToolsResult {
	var tools []Tool
	for _, name := range tooldefs.Tools() {
		if !s.toolVisible(name) {
			continue
		}
		tools = append(tools, buildToolSchema(name))
	}
	return &ListToolsResult{Tools: tools}
}

func (s *Server) toolVisible(name string) bool {
	if name == "mcp_local_manager" && s.Config != nil && !s.Config.UnsafeLocal {
		return false
	}
	if s.Config == nil || s.Config.ToolTier == config.ToolTierFull {
		return true
	}
	// core tier advertises only the always-on operational surface.
	switch name {
	case "mcp_ssh_manager", "artifacts", "workspace":
		return true
	default:
		return false
	}
}

func buildToolSchema(tool string) Tool {
	actions := tooldefs.Actions(tool)
	props := map[string]PropertySchema{
		"action": {Type: "string", Enum: actions, Description: "the operation to perform"},
	}
	seen := map[string]struct{}{"action": {}}
	for _, action := range actions {
		for _, name := range tooldefs.Properties(tool, action) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			props[name] = PropertySchema{Type: "string"}
		}
	}
	return Tool{
		Name: tool,
		InputSchema: InputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"action"},
		},
	}
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, *Error) {
	var callParams CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &Error{Code: ErrInvalidParams, Message: "failed to parse tool call params"}
	}
	if s.Executor == nil {
		return nil, &Error{Code: ErrInternal, Message: "no tool executor configured"}
	}

	req := requestFromParams(callParams)
	log.Debug().Str("tool", req.Tool).Str("action", req.Action).Str("trace_id", req.TraceID).Msg("executing tool")

	// Execute never returns a non-nil error; pipeline failures are already
	// embedded in the envelope it returns.
	result, _ := s.Executor.Execute(ctx, req)
	out := NewJSONResult(result)
	return &out, nil
}

// requestFromParams splits the MCP tools/call arguments into the
// orthogonal control fields and the action payload, minting trace/span ids
// when the caller didn't supply them.
func requestFromParams(p CallToolParams) executor.Request {
	args := make(map[string]interface{}, len(p.Arguments))
	for k, v := range p.Arguments {
		args[k] = v
	}

	action, _ := popString(args, "action")
	responseMode, _ := popString(args, "response_mode")
	traceID, _ := popString(args, "trace_id")
	spanID, _ := popString(args, "span_id")
	parentSpanID, _ := popString(args, "parent_span_id")
	preset := popObject(args, "preset")
	if preset == nil {
		preset = popObject(args, "preset_name")
	}

	if traceID == "" {
		traceID = uuid.NewString()
	}
	if spanID == "" {
		spanID = uuid.NewString()
	}

	return executor.Request{
		Tool:         p.Name,
		Action:       action,
		Arguments:    args,
		ResponseMode: responseMode,
		Preset:       preset,
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: parentSpanID,
	}
}

// popString reads and removes key from args, since trace/response-mode
// control fields are orthogonal to the action payload the schema validates.
func popString(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	delete(args, key)
	s, _ := v.(string)
	return s, true
}

func popObject(args map[string]interface{}, key string) map[string]interface{} {
	v, ok := args[key]
	if !ok {
		return nil
	}
	delete(args, key)
	m, _ := v.(map[string]interface{})
	return m
}
