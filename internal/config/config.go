// Package config centralizes every environment-driven setting the broker
// reads. All env-reads funnel through this single struct, initialised once
// at startup, and components receive it by reference.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ToolTier controls which tools tools/list advertises (invocation is always
// permitted regardless of tier).
type ToolTier string

const (
	ToolTierFull ToolTier = "full"
	ToolTierCore ToolTier = "core"
)

// StreamMode controls whether exec output is streamed to artifacts.
type StreamMode string

const (
	StreamOff    StreamMode = ""
	StreamCapped StreamMode = "capped"
	StreamFull   StreamMode = "full"
)

// JobsStoreKind selects whether JobRegistry persists to disk.
type JobsStoreKind string

const (
	JobsStoreMemory JobsStoreKind = "memory"
	JobsStoreFile   JobsStoreKind = "file"
)

// Config holds every recognised environment setting.
type Config struct {
	ContextRepoRoot string
	ToolTier        ToolTier
	UnsafeLocal     bool
	AllowSecretExport bool

	ToolCallTimeout time.Duration

	SSHExecTimeout          time.Duration
	SSHExecHardGrace        time.Duration
	SSHDetachedStartTimeout time.Duration

	SSHMaxCaptureBytes int64
	SSHMaxInlineBytes  int64
	SSHStreamToArtifact StreamMode

	SSHMaxJobs int

	JobsStore JobsStoreKind
	JobsTTL   time.Duration
	JobsMax   int

	ProfilesDir    string
	ProfileKeyPath string
	StatePath      string
	ProjectsPath   string
	AuditPath      string
	JobsPath       string
	LogLevel       string
}

// Load reads the process environment and applies defaults, including the
// base-directory resolution order used for on-disk state.
func Load() *Config {
	cfg := &Config{
		ContextRepoRoot:         firstNonEmpty(os.Getenv("SENTRYFROGG_CONTEXT_REPO_ROOT"), os.Getenv("SF_CONTEXT_REPO_ROOT"), defaultContextRoot()),
		ToolTier:                ToolTier(firstNonEmpty(os.Getenv("SENTRYFROGG_TOOL_TIER"), os.Getenv("SF_TOOL_TIER"), string(ToolTierFull))),
		UnsafeLocal:             envBool("SENTRYFROGG_UNSAFE_LOCAL", false),
		AllowSecretExport:       envBool("SENTRYFROGG_ALLOW_SECRET_EXPORT", false),
		ToolCallTimeout:         envDuration("SENTRYFROGG_TOOL_CALL_TIMEOUT_MS", 55_000*time.Millisecond),
		SSHExecTimeout:          envDuration("SENTRYFROGG_SSH_EXEC_TIMEOUT_MS", 30_000*time.Millisecond),
		SSHExecHardGrace:        envDuration("SENTRYFROGG_SSH_EXEC_HARD_GRACE_MS", 5_000*time.Millisecond),
		SSHDetachedStartTimeout: envDuration("SENTRYFROGG_SSH_DETACHED_START_TIMEOUT_MS", 10_000*time.Millisecond),
		SSHMaxCaptureBytes:      envInt64("SENTRYFROGG_SSH_MAX_CAPTURE_BYTES", 256*1024),
		SSHMaxInlineBytes:       envInt64("SENTRYFROGG_SSH_MAX_INLINE_BYTES", 16*1024),
		SSHStreamToArtifact:     StreamMode(os.Getenv("SENTRYFROGG_SSH_STREAM_TO_ARTIFACT")),
		SSHMaxJobs:              envInt("SENTRYFROGG_SSH_MAX_JOBS", 200),
		JobsStore:               JobsStoreKind(firstNonEmpty(os.Getenv("SF_JOBS_STORE"), string(JobsStoreMemory))),
		JobsTTL:                 envDuration("SF_JOBS_TTL_MS", 24*time.Hour),
		JobsMax:                 envInt("SF_JOBS_MAX", 200),
		LogLevel:                firstNonEmpty(os.Getenv("SENTRYFROGG_LOG_LEVEL"), "info"),
	}

	base := resolveBaseDir()
	cfg.ProfilesDir = firstNonEmpty(os.Getenv("MCP_PROFILES_DIR"), base)
	cfg.ProfileKeyPath = filepath.Join(cfg.ProfilesDir, ".mcp_profiles.key")
	cfg.StatePath = firstNonEmpty(os.Getenv("MCP_STATE_PATH"), filepath.Join(base, "state.json"))
	cfg.ProjectsPath = firstNonEmpty(os.Getenv("MCP_PROJECTS_PATH"), filepath.Join(base, "projects.json"))
	cfg.AuditPath = firstNonEmpty(os.Getenv("MCP_AUDIT_PATH"), filepath.Join(base, "audit.jsonl"))
	cfg.JobsPath = firstNonEmpty(os.Getenv("MCP_JOBS_PATH"), filepath.Join(base, "jobs.json"))

	return cfg
}

// resolveBaseDir picks the directory persisted state lives under, in order
// of precedence: an explicit override, a legacy directory next to the
// binary, XDG state home, the user's home directory, or the binary's own
// directory as a last resort.
func resolveBaseDir() string {
	if dir := os.Getenv("MCP_PROFILES_DIR"); dir != "" {
		return dir
	}
	if envBool("MCP_LEGACY_STORE", false) {
		if exe, err := os.Executable(); err == nil {
			legacy := filepath.Join(filepath.Dir(exe), ".sentryfrogg")
			if st, err := os.Stat(legacy); err == nil && st.IsDir() {
				return legacy
			}
		}
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "sentryfrogg")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "state", "sentryfrogg")
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(exe)
	}
	return "."
}

func defaultContextRoot() string {
	return filepath.Join(resolveBaseDir(), "context")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
