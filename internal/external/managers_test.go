package external

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCapabilityManager_DefaultsToDisabled(t *testing.T) {
	m := NewMemCapabilityManager()
	enabled, err := m.Enabled(context.Background(), "repo_exec")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestMemCapabilityManager_SetThenEnabled(t *testing.T) {
	m := NewMemCapabilityManager()
	require.NoError(t, m.Set(context.Background(), "repo_exec", true))
	enabled, err := m.Enabled(context.Background(), "repo_exec")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestMemIntentManager_RecordIncrementsSeenCount(t *testing.T) {
	m := NewMemIntentManager()
	require.NoError(t, m.Record(context.Background(), "deploy", "trace-1"))
	require.NoError(t, m.Record(context.Background(), "deploy", "trace-2"))

	n, err := m.Seen(context.Background(), "deploy")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemIntentManager_UnseenIntentIsZero(t *testing.T) {
	m := NewMemIntentManager()
	n, err := m.Seen(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemEvidenceManager_AttachThenList(t *testing.T) {
	m := NewMemEvidenceManager()
	require.NoError(t, m.Attach(context.Background(), "trace-1", "artifact://a"))
	require.NoError(t, m.Attach(context.Background(), "trace-1", "artifact://b"))

	uris, err := m.List(context.Background(), "trace-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact://a", "artifact://b"}, uris)
}

func TestMemEvidenceManager_UnknownTraceReturnsEmpty(t *testing.T) {
	m := NewMemEvidenceManager()
	uris, err := m.List(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, uris)
}

func TestMemPipelineManager_StartAppendSteps(t *testing.T) {
	m := NewMemPipelineManager()
	runID, err := m.Start(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Contains(t, runID, "nightly")

	require.NoError(t, m.Append(context.Background(), runID, "trace-1"))
	require.NoError(t, m.Append(context.Background(), runID, "trace-2"))

	steps, err := m.Steps(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"trace-1", "trace-2"}, steps)
}

func TestMemPipelineManager_DistinctRunsGetDistinctIDs(t *testing.T) {
	m := NewMemPipelineManager()
	a, err := m.Start(context.Background(), "run")
	require.NoError(t, err)
	b, err := m.Start(context.Background(), "run")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
