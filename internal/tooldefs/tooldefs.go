// Package tooldefs holds the JSON-Schema documents and example payloads for
// every tool action the broker exposes, and registers them into a schema
// registry at startup.
package tooldefs

import (
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/schema"
)

type def struct {
	tool    string
	action  string
	raw     map[string]interface{}
	example map[string]interface{}
}

func str(extra ...string) map[string]interface{} {
	m := map[string]interface{}{"type": "string"}
	if len(extra) > 0 {
		m["description"] = extra[0]
	}
	return m
}

func integer() map[string]interface{} { return map[string]interface{}{"type": "integer"} }
func boolean() map[string]interface{} { return map[string]interface{}{"type": "boolean"} }
func object() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func arrayOf(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

func schemaObj(props map[string]interface{}, required ...string) map[string]interface{} {
	m := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		m["required"] = required
	}
	return m
}

var defs = []def{
	{
		tool:   "mcp_ssh_manager",
		action: "exec",
		raw: schemaObj(map[string]interface{}{
			"command":    str(),
			"cwd":        str(),
			"env":        object(),
			"stdin":      str(),
			"pty":        boolean(),
			"timeout_ms": integer(),
			"profile":    str(),
			"connection": object(),
		}, "command"),
		example: map[string]interface{}{"command": "echo hi", "timeout_ms": 1000},
	},
	{
		tool:   "mcp_ssh_manager",
		action: "exec_detached",
		raw: schemaObj(map[string]interface{}{
			"command":          str(),
			"cwd":              str(),
			"env":              object(),
			"log_path":         str(),
			"pid_path":         str(),
			"exit_path":        str(),
			"start_timeout_ms": integer(),
			"profile":          str(),
		}, "command"),
		example: map[string]interface{}{"command": "sleep 10 && echo done"},
	},
	{
		tool:   "mcp_ssh_manager",
		action: "exec_follow",
		raw: schemaObj(map[string]interface{}{
			"command":          str(),
			"cwd":              str(),
			"env":              object(),
			"start_timeout_ms": integer(),
			"timeout_ms":       integer(),
			"poll_interval_ms": integer(),
			"profile":          str(),
		}, "command"),
		example: map[string]interface{}{"command": "sleep 10 && echo done", "timeout_ms": 300000},
	},
	{
		tool:   "mcp_ssh_manager",
		action: "job_status",
		raw:    schemaObj(map[string]interface{}{"job_id": str()}, "job_id"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "job_kill",
		raw: schemaObj(map[string]interface{}{
			"job_id": str(),
			"signal": str(),
		}, "job_id"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "job_wait",
		raw: schemaObj(map[string]interface{}{
			"job_id":           str(),
			"timeout_ms":       integer(),
			"poll_interval_ms": integer(),
		}, "job_id"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "follow_job",
		raw: schemaObj(map[string]interface{}{
			"job_id":           str(),
			"timeout_ms":       integer(),
			"poll_interval_ms": integer(),
		}, "job_id"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "tail_job",
		raw: schemaObj(map[string]interface{}{
			"job_id":     str(),
			"max_bytes":  integer(),
		}, "job_id"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "jobs_list",
		raw: schemaObj(map[string]interface{}{
			"status": str(),
			"limit":  integer(),
		}),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "jobs_cancel",
		raw:    schemaObj(map[string]interface{}{"job_id": str(), "reason": str()}, "job_id"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "jobs_forget",
		raw:    schemaObj(map[string]interface{}{"job_id": str()}, "job_id"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "sftp_exists",
		raw:    schemaObj(map[string]interface{}{"remote_path": str(), "profile": str()}, "remote_path"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "sftp_upload",
		raw: schemaObj(map[string]interface{}{
			"local_path":      str(),
			"remote_path":     str(),
			"overwrite":       boolean(),
			"ensure_remote_dir": boolean(),
			"utimes":          boolean(),
			"profile":         str(),
		}, "local_path", "remote_path"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "sftp_download",
		raw: schemaObj(map[string]interface{}{
			"remote_path": str(),
			"local_path":  str(),
			"overwrite":   boolean(),
			"utimes":      boolean(),
			"profile":     str(),
		}, "remote_path", "local_path"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "deploy_file",
		raw: schemaObj(map[string]interface{}{
			"local_path":      str(),
			"remote_path":     str(),
			"restart":         str(),
			"restart_command": str(),
			"profile":         str(),
		}, "local_path", "remote_path"),
		example: map[string]interface{}{"local_path": "./a.bin", "remote_path": "/opt/a.bin"},
	},
	{
		tool:   "mcp_ssh_manager",
		action: "authorized_keys_add",
		raw: schemaObj(map[string]interface{}{
			"key_line": str(),
			"profile":  str(),
		}, "key_line"),
	},
	{
		tool:   "mcp_ssh_manager",
		action: "authorized_keys_list",
		raw:    schemaObj(map[string]interface{}{"profile": str()}),
	},
	{
		tool:   "mcp_psql_manager",
		action: "query",
		raw: schemaObj(map[string]interface{}{
			"query":   str(),
			"args":    arrayOf(map[string]interface{}{}),
			"profile": str(),
		}, "query"),
	},
	{
		tool:   "mcp_http_manager",
		action: "request",
		raw: schemaObj(map[string]interface{}{
			"method":  str(),
			"url":     str(),
			"headers": object(),
			"body":    str(),
			"profile": str(),
		}, "method", "url"),
	},
	{
		tool:   "mcp_vault_manager",
		action: "read",
		raw:    schemaObj(map[string]interface{}{"path": str(), "field": str()}, "path"),
	},
	{
		tool:   "mcp_repo_manager",
		action: "exec",
		raw: schemaObj(map[string]interface{}{
			"command":    str(),
			"cwd":        str(),
			"timeout_ms": integer(),
			"inline":     boolean(),
		}, "command"),
	},
	{
		tool:   "mcp_local_manager",
		action: "exec",
		raw: schemaObj(map[string]interface{}{
			"command":    str(),
			"cwd":        str(),
			"timeout_ms": integer(),
			"inline":     boolean(),
		}, "command"),
	},
	{
		tool:   "artifacts",
		action: "get",
		raw: schemaObj(map[string]interface{}{
			"uri":       str(),
			"max_bytes": integer(),
		}, "uri"),
		example: map[string]interface{}{"uri": "artifact://runs/T1/tool_calls/S1/stdout.log", "max_bytes": 64},
	},
	{
		tool:   "artifacts",
		action: "head",
		raw:    schemaObj(map[string]interface{}{"uri": str(), "max_bytes": integer()}, "uri"),
	},
	{
		tool:   "artifacts",
		action: "tail",
		raw:    schemaObj(map[string]interface{}{"uri": str(), "max_bytes": integer()}, "uri"),
	},
	{
		tool:   "artifacts",
		action: "list",
		raw:    schemaObj(map[string]interface{}{"prefix": str(), "limit": integer()}),
	},
	{
		tool:   "workspace",
		action: "run",
		raw:    schemaObj(map[string]interface{}{"runbook": str()}, "runbook"),
	},
}

// Register compiles and registers every known (tool, action) schema into r.
func Register(r *schema.Registry) error {
	for _, d := range defs {
		if err := r.Register(d.tool, d.action, d.raw, d.example); err != nil {
			return err
		}
	}
	return nil
}

// Properties returns the declared top-level property names for (tool,
// action), used by ArgNormalizer and did-you-mean rendering outside of
// schema validation failures.
func Properties(tool, action string) []string {
	for _, d := range defs {
		if d.tool == tool && d.action == action {
			props, _ := d.raw["properties"].(map[string]interface{})
			out := make([]string, 0, len(props))
			for k := range props {
				out = append(out, k)
			}
			return out
		}
	}
	return nil
}

// Actions returns every action name registered for tool.
func Actions(tool string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, d := range defs {
		if d.tool == tool {
			if _, ok := seen[d.action]; !ok {
				seen[d.action] = struct{}{}
				out = append(out, d.action)
			}
		}
	}
	return out
}

// Tools returns every distinct canonical tool name with a registered schema.
func Tools() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, d := range defs {
		if _, ok := seen[d.tool]; !ok {
			seen[d.tool] = struct{}{}
			out = append(out, d.tool)
		}
	}
	return out
}
