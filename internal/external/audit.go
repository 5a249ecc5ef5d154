package external

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditEvent is one line of the tool-call audit trail.
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id"`
	Tool       string    `json:"tool"`
	Action     string    `json:"action"`
	Intent     string    `json:"intent,omitempty"`
	Remote     string    `json:"remote,omitempty"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	ErrorCode  string    `json:"error_code,omitempty"`
}

// AuditLogWriter appends one audit event at a time. Implementations must
// be safe for concurrent use by the executor's finish step.
type AuditLogWriter interface {
	Write(event AuditEvent) error
	Close() error
}

// JSONLAuditLogWriter appends newline-delimited JSON to a file.
type JSONLAuditLogWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewJSONLAuditLogWriter(path string) (*JSONLAuditLogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONLAuditLogWriter{file: f, enc: json.NewEncoder(f)}, nil
}

func (w *JSONLAuditLogWriter) Write(event AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(event)
}

func (w *JSONLAuditLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// NopAuditLogWriter discards every event. Used when no audit path is
// configured so callers never need a nil check.
type NopAuditLogWriter struct{}

func (NopAuditLogWriter) Write(AuditEvent) error { return nil }
func (NopAuditLogWriter) Close() error           { return nil }
