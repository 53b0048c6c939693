package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests share package state and must not run in parallel.

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")
	t.Cleanup(func() { InitWithWriter(&bytes.Buffer{}, "INFO", "text") })

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", KeyOp, "lookup")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
	assert.Contains(t, out, "op=lookup")
}

func TestJSONFormatWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "json")
	t.Cleanup(func() { InitWithWriter(&bytes.Buffer{}, "INFO", "text") })

	ctx := WithContext(context.Background(), &LogContext{UID: 1000, GID: 100, PID: 42})
	DebugCtx(ctx, "op failed", KeyOp, "rmdir", KeyErrno, "ENOTEMPTY")

	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "op failed", rec["msg"])
	assert.Equal(t, "rmdir", rec[KeyOp])
	assert.Equal(t, float64(1000), rec[KeyUID])
	assert.Equal(t, float64(42), rec[KeyPID])
}

func TestInvalidSettingsIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")
	t.Cleanup(func() { InitWithWriter(&bytes.Buffer{}, "INFO", "text") })

	SetLevel("loud")
	SetFormat("xml")
	assert.False(t, Enabled(LevelDebug))
	assert.True(t, Enabled(LevelInfo))
	Info("still text")
	assert.True(t, strings.HasPrefix(buf.String(), "time="))
}

func TestNilContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	args := appendContextFields(context.Background(), []any{"k", "v"})
	assert.Equal(t, []any{"k", "v"}, args)
}
