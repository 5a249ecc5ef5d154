package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextContent_SetsTypeAndText(t *testing.T) {
	c := NewTextContent("hello")
	assert.Equal(t, "text", c.Type)
	assert.Equal(t, "hello", c.Text)
}

func TestNewErrorResult_MarksIsErrorTrue(t *testing.T) {
	r := NewErrorResult(errors.New("boom"))
	assert.True(t, r.IsError)
	require.Len(t, r.Content, 1)
	assert.Equal(t, "boom", r.Content[0].Text)
}

func TestNewJSONResult_EncodesDataAsTextContent(t *testing.T) {
	r := NewJSONResult(map[string]interface{}{"ok": true})
	assert.False(t, r.IsError)
	require.Len(t, r.Content, 1)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(r.Content[0].Text), &decoded))
	assert.Equal(t, true, decoded["ok"])
}

func TestNewJSONResult_UnmarshalableDataFallsBackToErrorResult(t *testing.T) {
	r := NewJSONResult(make(chan int))
	assert.True(t, r.IsError)
}
