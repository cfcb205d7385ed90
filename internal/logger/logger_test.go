package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"none", SILENT},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Test", "hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("Test", "shown %d", 2)
	out := buf.String()
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "module=Test")
	assert.Contains(t, out, "level=warning")
}

func TestLoggerEnabled(t *testing.T) {
	l := New(INFO, &bytes.Buffer{}, false)
	assert.False(t, l.Enabled(DEBUG))
	assert.True(t, l.Enabled(INFO))
	assert.True(t, l.Enabled(ERROR))

	l.SetLevel(SILENT)
	assert.False(t, l.Enabled(ERROR))
	assert.Equal(t, SILENT, l.GetLevel())
}

func TestSilentWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("Test", "nothing")
	assert.Empty(t, buf.String())
}
