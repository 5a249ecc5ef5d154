package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_TerminalClassification(t *testing.T) {
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusQueued.Terminal())
}

func TestNewJobID_ProducesNonEmptyUnique(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestUpsert_NewJobReturnsCancelableContext(t *testing.T) {
	r := NewRegistry(Options{})
	j := &Job{JobID: "job1", Status: StatusRunning}
	ctx := r.Upsert(j)
	require.NotNil(t, ctx)

	select {
	case <-ctx.Done():
		t.Fatal("context should not be done yet")
	default:
	}

	got, ok := r.Get("job1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestUpsert_ExistingJobReusesContext(t *testing.T) {
	r := NewRegistry(Options{})
	j1 := &Job{JobID: "job1", Status: StatusRunning}
	ctx1 := r.Upsert(j1)

	j2 := &Job{JobID: "job1", Status: StatusSucceeded}
	ctx2 := r.Upsert(j2)

	assert.Same(t, ctx1, ctx2)
}

func TestUpsert_TerminalJobGetsExpiryWhenTTLSet(t *testing.T) {
	r := NewRegistry(Options{TTL: time.Minute})
	j := &Job{JobID: "job1", Status: StatusSucceeded}
	r.Upsert(j)

	got, ok := r.Get("job1")
	require.True(t, ok)
	require.NotNil(t, got.ExpiresAt)
}

func TestGetAbortSignal_CancelFiresContext(t *testing.T) {
	r := NewRegistry(Options{})
	r.Upsert(&Job{JobID: "job1", Status: StatusRunning})

	ctx, ok := r.GetAbortSignal("job1")
	require.True(t, ok)

	_, canceled := r.Cancel("job1", "user requested")
	assert.True(t, canceled)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not canceled")
	}
}

func TestCancel_UnknownJobReturnsFalse(t *testing.T) {
	r := NewRegistry(Options{})
	_, ok := r.Cancel("nope", "reason")
	assert.False(t, ok)
}

func TestCancel_SetsStatusAndError(t *testing.T) {
	r := NewRegistry(Options{})
	r.Upsert(&Job{JobID: "job1", Status: StatusRunning})
	job, ok := r.Cancel("job1", "timed out")
	require.True(t, ok)
	assert.Equal(t, StatusCanceled, job.Status)
	assert.Equal(t, "timed out", job.Error)
	assert.NotNil(t, job.EndedAt)
}

func TestList_NewestFirst(t *testing.T) {
	r := NewRegistry(Options{})
	r.Upsert(&Job{JobID: "job1", Status: StatusRunning})
	r.Upsert(&Job{JobID: "job2", Status: StatusRunning})

	list := r.List(ListOptions{})
	require.Len(t, list, 2)
	assert.Equal(t, "job2", list[0].JobID)
	assert.Equal(t, "job1", list[1].JobID)
}

func TestList_FiltersByStatus(t *testing.T) {
	r := NewRegistry(Options{})
	r.Upsert(&Job{JobID: "job1", Status: StatusRunning})
	r.Upsert(&Job{JobID: "job2", Status: StatusSucceeded})

	list := r.List(ListOptions{Status: StatusSucceeded})
	require.Len(t, list, 1)
	assert.Equal(t, "job2", list[0].JobID)
}

func TestList_RespectsLimit(t *testing.T) {
	r := NewRegistry(Options{})
	r.Upsert(&Job{JobID: "job1", Status: StatusRunning})
	r.Upsert(&Job{JobID: "job2", Status: StatusRunning})
	r.Upsert(&Job{JobID: "job3", Status: StatusRunning})

	list := r.List(ListOptions{Limit: 2})
	assert.Len(t, list, 2)
}

func TestEvictLRU_DropsOldestBeyondMaxJobs(t *testing.T) {
	r := NewRegistry(Options{MaxJobs: 2})
	r.Upsert(&Job{JobID: "job1", Status: StatusRunning})
	r.Upsert(&Job{JobID: "job2", Status: StatusRunning})
	r.Upsert(&Job{JobID: "job3", Status: StatusRunning})

	_, ok := r.Get("job1")
	assert.False(t, ok)
	_, ok = r.Get("job3")
	assert.True(t, ok)
}

func TestForget_RemovesJobRegardlessOfTTL(t *testing.T) {
	r := NewRegistry(Options{})
	r.Upsert(&Job{JobID: "job1", Status: StatusRunning})
	assert.True(t, r.Forget("job1"))

	_, ok := r.Get("job1")
	assert.False(t, ok)
}

func TestForget_UnknownJobReturnsFalse(t *testing.T) {
	r := NewRegistry(Options{})
	assert.False(t, r.Forget("nope"))
}

func TestPersistAndReload_RoundTripsAcrossRegistries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	r1 := NewRegistry(Options{Path: path, Persist: true})
	r1.Upsert(&Job{JobID: "job1", Status: StatusRunning, Kind: "ssh_exec"})

	r2 := NewRegistry(Options{Path: path, Persist: true})
	got, ok := r2.Get("job1")
	require.True(t, ok)
	assert.Equal(t, "ssh_exec", got.Kind)
}

func TestPurgeExpired_RemovesTerminalJobsPastTTL(t *testing.T) {
	r := NewRegistry(Options{TTL: time.Millisecond})
	r.Upsert(&Job{JobID: "job1", Status: StatusSucceeded})
	time.Sleep(5 * time.Millisecond)

	r.PurgeExpired()
	_, ok := r.Get("job1")
	assert.False(t, ok)
}
