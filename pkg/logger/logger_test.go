package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_AddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UsernameKey, "h1")
	InfoContext(ctx, "pass issued", "pass_id", "p-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "pass issued", rec["msg"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "h1", rec["username"])
	assert.Equal(t, "p-1", rec["pass_id"])
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	Debug("hidden")
	assert.Zero(t, buf.Len())

	SetOutput(&buf, "debug")
	Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
