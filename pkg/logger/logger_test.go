package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  LogLevel
		wantError bool
	}{
		{"DEBUG", DEBUG, false},
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"WARN", WARN, false},
		{"warning", WARN, false},
		{"ERROR", ERROR, false},
		{"TRACE", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewWithConfig_Defaults(t *testing.T) {
	l := NewWithConfig(Config{Level: WARN, Format: "xml"})

	assert.Equal(t, WARN, l.GetLevel())
	assert.Equal(t, FormatText, l.settings.format)
	assert.NotNil(t, l.fields)
}

func TestLogger_WithFields(t *testing.T) {
	l := New()

	child := l.WithFields("projectId", "p-1", "attempt", 2, "dangling")

	assert.NotSame(t, l, child)
	assert.Len(t, child.fields, 2)
	assert.Equal(t, "p-1", child.fields["projectId"])
	assert.Empty(t, l.fields, "parent fields must not change")
}

func TestLogger_WithModePreservesFields(t *testing.T) {
	l := New().WithField("component", "queue")

	child := l.WithMode("run")

	assert.Equal(t, "run", child.GetMode())
	assert.Equal(t, "queue", child.fields["component"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(Config{Level: INFO, Output: &buf})

	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Info("shown")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	l.Error("failure")
	assert.Contains(t, buf.String(), "[ERROR]")
}

func TestLogger_ChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithConfig(Config{Level: ERROR, Output: &buf})
	child := parent.WithField("component", "monitor")

	child.Info("before")
	assert.Zero(t, buf.Len())

	parent.SetLevel(DEBUG)
	child.Debug("after")
	assert.Contains(t, buf.String(), "after")
}

func TestLogger_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(Config{Level: DEBUG, Output: &buf, Mode: "server"})

	l.Info("item admitted", "projectId", "p-1", "position", 0, "reason", "new work")

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[server]")
	assert.Contains(t, out, "item admitted")
	assert.Contains(t, out, `position=0 projectId=p-1 reason="new work"`)
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(Config{Level: DEBUG, Output: &buf, Format: FormatJSON})

	l.WithField("component", "monitor").Warn("alert suppressed",
		"type", "cpu_high",
		"error", errors.New("cooldown"),
		"window", 60*time.Second)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))

	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "alert suppressed", entry["msg"])
	assert.Equal(t, "monitor", entry["component"])
	assert.Equal(t, "cooldown", entry["error"])
	assert.Equal(t, "1m0s", entry["window"])
	assert.NotEmpty(t, entry["ts"])
}

func TestLogger_SetFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(Config{Level: INFO, Output: &buf})

	l.SetFormat(FormatJSON)
	l.Info("switched")

	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}

func TestLogger_IsLevelEnabled(t *testing.T) {
	tests := []struct {
		level        LogLevel
		debugEnabled bool
		infoEnabled  bool
	}{
		{DEBUG, true, true},
		{INFO, false, true},
		{WARN, false, false},
	}

	for _, tt := range tests {
		l := New()
		l.SetLevel(tt.level)
		assert.Equal(t, tt.debugEnabled, l.IsDebugEnabled(), tt.level.String())
		assert.Equal(t, tt.infoEnabled, l.IsInfoEnabled(), tt.level.String())
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"plain string", "queued", "queued"},
		{"string with spaces", "memory high", `"memory high"`},
		{"integer", 42, "42"},
		{"error", errors.New("step failed"), `"step failed"`},
		{"duration", 5 * time.Second, "5s"},
		{"nil", nil, "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValue(tt.value))
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel(DEBUG)
	defer SetLevel(INFO)

	WithField("component", "test").Debug("from child")
	Info("from global")

	assert.Contains(t, buf.String(), "from child")
	assert.Contains(t, buf.String(), "from global")
}

func BenchmarkLogger_Info(b *testing.B) {
	l := NewWithConfig(Config{Level: INFO, Output: &bytes.Buffer{}})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("benchmark message", "i", i)
	}
}
