package task_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/taskconsumer/internal/task"
)

func TestDecode_Happy(t *testing.T) {
	body := []byte(`{"id":"abc","task":"add","args":[2,3],"kwargs":{}}`)
	tk, err := task.Decode(body)
	require.NoError(t, err)
	require.Equal(t, "add", tk.Name)
	require.Equal(t, "abc", tk.ID)
	require.Len(t, tk.Args, 2)
}

func TestDecode_MalformedBody(t *testing.T) {
	_, err := task.Decode([]byte(`not json at all`))
	require.True(t, errors.Is(err, task.ErrMalformed))
}

func TestDecode_UnknownFormat(t *testing.T) {
	_, err := task.Decode([]byte(`[1,2,3]`))
	require.True(t, errors.Is(err, task.ErrUnknownFormat))
}

func TestDecode_InvalidTaskMissingName(t *testing.T) {
	_, err := task.Decode([]byte(`{"id":"abc","args":[]}`))
	require.True(t, errors.Is(err, task.ErrInvalidTask))
}

func TestDecode_EmptyTaskNameIsInvalid(t *testing.T) {
	_, err := task.Decode([]byte(`{"id":"abc","task":""}`))
	require.True(t, errors.Is(err, task.ErrInvalidTask))
}

func TestTask_RevokedDefaultsFalse(t *testing.T) {
	tk := &task.Task{ID: "x"}
	require.False(t, tk.Revoked())
}

func TestTask_AcknowledgeDelegatesToCallback(t *testing.T) {
	tk := &task.Task{ID: "x"}
	called := false
	tk.SetAckCallbacks(func() error { called = true; return nil }, nil)
	require.NoError(t, tk.Acknowledge())
	require.True(t, called)
}
