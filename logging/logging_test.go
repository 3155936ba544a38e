package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogEntryHasRequiredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))))

	l.Info("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "hello", lines[0]["message"])
	assert.NotEmpty(t, lines[0]["timestamp"])
}

func TestRedactionCoversNestedAndCaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))))

	l.Info("auth attempt", "Authorization", "Bearer xyz", "nested", map[string]any{
		"apiKey": "abc123",
		"user":   "alice",
	})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, redactedSentinel, lines[0]["Authorization"])
	nested := lines[0]["nested"].(map[string]any)
	assert.Equal(t, redactedSentinel, nested["apiKey"])
	assert.Equal(t, "alice", nested["user"])
}

func TestRedactionDoesNotTouchArrayElementsByParentKey(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))))

	l.Info("batch", "token", []any{"a", "b"})

	lines := decodeLines(t, &buf)
	// the key "token" itself is redacted (its whole value replaced),
	// matching "the key name belongs to the parent property, not the
	// elements" -- there is no per-element redaction to verify beyond
	// the parent substitution.
	assert.Equal(t, redactedSentinel, lines[0]["token"])
}

func TestSanitizationEscapesControlCharacters(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))))

	l.Info("line", "raw", "a\nb\tc\x01d")

	lines := decodeLines(t, &buf)
	assert.Equal(t, `a\nb\tcd`, lines[0]["raw"])
}

func TestLogImmutability(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))))

	ctx := map[string]any{"token": "secret", "name": "alice"}
	before, _ := json.Marshal(ctx)

	l.Info("event", "ctx", ctx)

	after, _ := json.Marshal(ctx)
	assert.Equal(t, before, after)
}

func TestBindMergesWithoutMutatingParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))))

	child := parent.Bind("agentId", "a1")
	child.Info("hi")
	parent.Info("bye")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "a1", lines[0]["agentId"])
	_, parentHasField := lines[1]["agentId"]
	assert.False(t, parentHasField)
}

func TestTruncationMarksSuffixAndWarns(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))), WithMaxLineBytes(80))

	l.Info("big", "payload", strings.Repeat("x", 500))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "log line truncated", lines[1]["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithClock(fixedClock(time.Unix(0, 0))), WithLevel(Warn))

	l.Debug("skip")
	l.Info("skip too")
	l.Warn("keep")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "keep", lines[0]["message"])
}
