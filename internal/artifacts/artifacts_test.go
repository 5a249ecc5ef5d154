package artifacts

import (
	"encoding/base64"
	"testing"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestRelForRun_UsesRunFallbackWhenTraceEmpty(t *testing.T) {
	rel := RelForRun("", "span1", "stdout.log")
	assert.Equal(t, "runs/run/tool_calls/span1/stdout.log", rel)
}

func TestRelForRun_UsesTraceID(t *testing.T) {
	rel := RelForRun("trace1", "span1", "stdout.log")
	assert.Equal(t, "runs/trace1/tool_calls/span1/stdout.log", rel)
}

func TestResolve_RejectsPathEscapingRoot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Resolve("../../etc/passwd")
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeArtifactTraversal, tagged.Code)
}

func TestResolve_AllowsNestedPath(t *testing.T) {
	s := newTestStore(t)
	abs, err := s.Resolve("runs/t1/stdout.log")
	require.NoError(t, err)
	assert.Contains(t, abs, "runs")
}

func TestWriteText_ThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	art, err := s.WriteText("runs/t1/out.txt", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "artifact://runs/t1/out.txt", art.URI)
	assert.Equal(t, int64(len("hello world")), art.Bytes)
	assert.NotEmpty(t, art.SHA256)

	slice, err := s.Get("runs/t1/out.txt", 0, 1024, false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", slice.Content)
	assert.False(t, slice.Truncated)
}

func TestGet_MissingFileReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("runs/missing.txt", 0, 1024, false)
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindNotFound, tagged.Kind)
}

func TestHead_ReturnsFirstBytesAndMarksTruncated(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteText("f.txt", "0123456789")
	require.NoError(t, err)

	slice, err := s.Head("f.txt", 4, false)
	require.NoError(t, err)
	assert.Equal(t, "0123", slice.Content)
	assert.True(t, slice.Truncated)
}

func TestTail_ReturnsLastBytes(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteText("f.txt", "0123456789")
	require.NoError(t, err)

	slice, err := s.Tail("f.txt", 4, false)
	require.NoError(t, err)
	assert.Equal(t, "6789", slice.Content)
	assert.Equal(t, int64(6), slice.Offset)
}

func TestGet_AsBase64EncodesContent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteText("f.txt", "abc")
	require.NoError(t, err)

	slice, err := s.Get("f.txt", 0, 1024, true)
	require.NoError(t, err)
	assert.Empty(t, slice.Content)
	decoded, err := base64.StdEncoding.DecodeString(slice.ContentBase64)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(decoded))
}

func TestGet_MaxBytesClampedToDefaultWhenZero(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteText("f.txt", "abc")
	require.NoError(t, err)

	slice, err := s.Get("f.txt", 0, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "abc", slice.Content)
}

func TestCreateWriteStream_FinalizeProducesArtifact(t *testing.T) {
	s := newTestStore(t)
	w, err := s.CreateWriteStream("stream.log")
	require.NoError(t, err)

	_, err = w.Write([]byte("chunk1"))
	require.NoError(t, err)
	_, err = w.Write([]byte("chunk2"))
	require.NoError(t, err)

	art, err := w.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(len("chunk1chunk2")), art.Bytes)

	slice, err := s.Get("stream.log", 0, 1024, false)
	require.NoError(t, err)
	assert.Equal(t, "chunk1chunk2", slice.Content)
}

func TestCreateWriteStream_AbortDiscardsTempFile(t *testing.T) {
	s := newTestStore(t)
	w, err := s.CreateWriteStream("aborted.log")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = s.Get("aborted.log", 0, 1024, false)
	require.Error(t, err)
}

func TestList_ReturnsSortedEntriesUnderPrefix(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteText("runs/t1/b.txt", "b")
	require.NoError(t, err)
	_, err = s.WriteText("runs/t1/a.txt", "a")
	require.NoError(t, err)

	entries, err := s.List("runs/t1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "runs/t1/a.txt", entries[0].Rel)
	assert.Equal(t, "runs/t1/b.txt", entries[1].Rel)
}

func TestList_RespectsLimit(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := s.WriteText(name, "x")
		require.NoError(t, err)
	}

	entries, err := s.List("", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestList_MissingPrefixReturnsEmptyNoError(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.List("does/not/exist", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
