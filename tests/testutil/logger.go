package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/keyrotate/internal/logging"
)

// LogCapture collects the output of a logging.Logger in memory.
//
// Example usage:
//
//	logger, logs := NewTestLogger(t)
//	logger.Info("Created key %s", logging.Secret("hunter2"))
//	logs.AssertRedacted(t, "hunter2")
type LogCapture struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

// NewTestLogger returns a logger writing into a LogCapture. Debug output is
// captured as well.
func NewTestLogger(t *testing.T) (*logging.Logger, *LogCapture) {
	t.Helper()
	capture := &LogCapture{}
	return logging.NewWithWriter(capture, true), capture
}

// Write implements io.Writer
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Write(p)
}

// GetOutput returns everything captured so far
func (c *LogCapture) GetOutput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.String()
}

// Clear drops the captured output
func (c *LogCapture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer.Reset()
}

// AssertContains asserts that the log output contains substr
func (c *LogCapture) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, c.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does NOT contain substr
func (c *LogCapture) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, c.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertRedacted asserts that none of the secret values reached the log.
func (c *LogCapture) AssertRedacted(t *testing.T, secretValues ...string) {
	t.Helper()
	output := c.GetOutput()
	for _, secret := range secretValues {
		if secret == "" {
			continue
		}
		assert.NotContains(t, output, secret,
			"Secret value %q should be redacted, but appears in logs", secret)
	}
}

// AssertLogCount asserts that a level marker appears count times.
//
// Level markers:
//   - info: "✓"
//   - warn: "⚠"
//   - error: "✗"
//   - debug: "[DEBUG]"
func (c *LogCapture) AssertLogCount(t *testing.T, level string, count int) {
	t.Helper()

	var marker string
	switch level {
	case "info":
		marker = "✓"
	case "warn":
		marker = "⚠"
	case "error":
		marker = "✗"
	case "debug":
		marker = "[DEBUG]"
	default:
		t.Fatalf("Unknown log level: %s", level)
	}

	actual := strings.Count(c.GetOutput(), marker)
	assert.Equal(t, count, actual, "Expected %d %s log messages, got %d", count, level, actual)
}

// Lines returns the non-empty output lines
func (c *LogCapture) Lines() []string {
	lines := strings.Split(c.GetOutput(), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
