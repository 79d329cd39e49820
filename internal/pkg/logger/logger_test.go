package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var out []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]string{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_LevelFilteringAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	l.Debug("hidden")
	l.Info("registered", "subscriber_id", "abc", "state", "completed")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "registered", lines[0]["msg"])
	assert.Equal(t, "abc", lines[0]["subscriber_id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", lines[0]["time"])
}

func TestLogger_RedactsSecretsAndEmails(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG).With("component", "api")

	l.Info("sent",
		"email", "ursula@example.com",
		"subscription_token", "abcdefghij0123456789ABCDE",
		"authorization_token", "super-secret",
		"detail", "delivered to bob.smith@example.org")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	e := lines[0]
	assert.Equal(t, "api", e["component"])
	assert.Equal(t, "ur***@example.com", e["email"])
	assert.Equal(t, redacted, e["subscription_token"])
	assert.Equal(t, redacted, e["authorization_token"])
	assert.Equal(t, "delivered to bo***@example.org", e["detail"])
}

func TestLogger_OddFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, INFO).Warn("odd", "dangling")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "dangling", lines[0]["!BADKEY"])
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DEBUG, "INFO": INFO, "": INFO, "warning": WARN, "error": ERROR} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
