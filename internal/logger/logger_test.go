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

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithWriter(&buf), WithFormat("text"))

	l.Debug("hidden")
	l.Info("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "key=value")
}

func TestLoggerDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithWriter(&buf), WithDebug())

	l.Debugf("answer is %d", 42)
	assert.Contains(t, buf.String(), "answer is 42")
}

func TestLoggerLevelFromString(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithWriter(&buf), WithLevel("warn"))

	l.Info("quiet")
	l.Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithWriter(&buf), WithFormat("json"))

	l.Info("structured", "count", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "structured", record["msg"])
	assert.EqualValues(t, 3, record["count"])
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithWriter(&buf), WithFormat("text"))

	l.With("build", 12).Info("bound")
	assert.Contains(t, buf.String(), "build=12")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithWriter(&buf), WithFormat("text"))
	ctx := WithLogger(context.Background(), l)

	Info(ctx, "from context", "k", "v")
	Infof(ctx, "count %d", 2)

	out := buf.String()
	assert.True(t, strings.Contains(out, "from context"))
	assert.Contains(t, out, "count 2")
}

func TestContextLoggerFallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}
