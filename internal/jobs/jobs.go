// Package jobs implements JobRegistry: the in-memory (optionally on-disk
// persisted) set of tracked background jobs, with LRU eviction by insertion
// order, TTL purge of terminal entries, and per-job cancellation tokens.
package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Provider describes where the job's backing process lives.
type Provider struct {
	Tool        string `json:"tool"`
	ProfileName string `json:"profile_name,omitempty"`
	PID         int    `json:"pid,omitempty"`
	PIDPath     string `json:"pid_path"`
	LogPath     string `json:"log_path"`
	ExitPath    string `json:"exit_path"`
}

// Job is one tracked background operation.
type Job struct {
	JobID         string     `json:"job_id"`
	Kind          string     `json:"kind"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	TraceID       string     `json:"trace_id,omitempty"`
	ParentSpanID  string     `json:"parent_span_id,omitempty"`
	Provider      Provider   `json:"provider"`
	Progress      interface{} `json:"progress,omitempty"`
	Artifacts     []string   `json:"artifacts,omitempty"`
	Error         string     `json:"error,omitempty"`

	cancel context.CancelFunc
}

type entry struct {
	job       *Job
	sequence  uint64
	cancelCtx context.Context
}

// Registry holds every tracked job.
type Registry struct {
	mu       sync.Mutex
	maxJobs  int
	ttl      time.Duration
	items    map[string]*entry
	order    []string
	sequence uint64
	path     string
	persist  bool
}

// Options configures a Registry.
type Options struct {
	MaxJobs int
	TTL     time.Duration
	Path    string
	Persist bool
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		maxJobs: opts.MaxJobs,
		ttl:     opts.TTL,
		items:   map[string]*entry{},
		path:    opts.Path,
		persist: opts.Persist,
	}
	if r.persist {
		r.load()
	}
	return r
}

// Upsert creates or refreshes a job, returning its abort context.
func (r *Registry) Upsert(j *Job) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if r.ttl > 0 && j.Status.Terminal() && j.ExpiresAt == nil {
		expires := now.Add(r.ttl)
		j.ExpiresAt = &expires
	}

	ex, exists := r.items[j.JobID]
	if exists {
		ctx := ex.cancelCtx
		ex.job = j
		r.purgeExpiredLocked()
		r.persistLocked()
		return ctx
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	r.sequence++
	r.items[j.JobID] = &entry{job: j, sequence: r.sequence, cancelCtx: ctx}
	r.order = append(r.order, j.JobID)
	r.evictLRULocked()
	r.purgeExpiredLocked()
	r.persistLocked()
	return ctx
}

// NewJobID generates a fresh job identifier.
func NewJobID() string { return uuid.NewString() }

func (r *Registry) evictLRULocked() {
	if r.maxJobs <= 0 {
		return
	}
	for len(r.order) > r.maxJobs {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.items, oldest)
	}
}

func (r *Registry) purgeExpiredLocked() {
	now := time.Now()
	kept := r.order[:0:0]
	for _, id := range r.order {
		e, ok := r.items[id]
		if !ok {
			continue
		}
		if e.job.ExpiresAt != nil && !now.Before(*e.job.ExpiresAt) {
			delete(r.items, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// PurgeExpired removes every terminal job whose TTL has elapsed.
func (r *Registry) PurgeExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()
	r.persistLocked()
}

// Get returns a job by id.
func (r *Registry) Get(jobID string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()
	e, ok := r.items[jobID]
	if !ok {
		return nil, false
	}
	return e.job, true
}

// GetAbortSignal returns the cancellation context for a job, if tracked.
func (r *Registry) GetAbortSignal(jobID string) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[jobID]
	if !ok {
		return nil, false
	}
	return e.cancelCtx, true
}

// ListOptions filters List.
type ListOptions struct {
	Status Status
	Limit  int
}

// List returns jobs newest-first, optionally filtered by status and capped
// at Limit.
func (r *Registry) List(opts ListOptions) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()

	out := make([]*Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.items[r.order[i]]
		if opts.Status != "" && e.job.Status != opts.Status {
			continue
		}
		out = append(out, e.job)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

// Cancel marks a job canceled and fires its abort token.
func (r *Registry) Cancel(jobID, reason string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[jobID]
	if !ok {
		return nil, false
	}
	e.job.Status = StatusCanceled
	e.job.Error = reason
	now := time.Now()
	e.job.EndedAt = &now
	e.job.UpdatedAt = now
	if r.ttl > 0 {
		expires := now.Add(r.ttl)
		e.job.ExpiresAt = &expires
	}
	if e.job.cancel != nil {
		e.job.cancel()
	}
	r.persistLocked()
	return e.job, true
}

// Forget removes a job from the registry regardless of TTL.
func (r *Registry) Forget(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[jobID]; !ok {
		return false
	}
	delete(r.items, jobID)
	for i, id := range r.order {
		if id == jobID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.persistLocked()
	return true
}

type diskState struct {
	Jobs []*Job `json:"jobs"`
}

func (r *Registry) persistLocked() {
	if !r.persist || r.path == "" {
		return
	}
	jobs := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		jobs = append(jobs, r.items[id].job)
	}
	data, err := json.MarshalIndent(diskState{Jobs: jobs}, "", "  ")
	if err != nil {
		return
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err == nil {
		tmp.Close()
		os.Rename(tmpPath, r.path)
	} else {
		tmp.Close()
		os.Remove(tmpPath)
	}
}

func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var ds diskState
	if err := json.Unmarshal(data, &ds); err != nil {
		return
	}
	for _, j := range ds.Jobs {
		ctx, cancel := context.WithCancel(context.Background())
		j.cancel = cancel
		r.sequence++
		r.items[j.JobID] = &entry{job: j, sequence: r.sequence, cancelCtx: ctx}
		r.order = append(r.order, j.JobID)
	}
}
