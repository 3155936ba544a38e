// Package logging implements the structured, redacting, copy-on-write
// logger (component B). It follows the teacher's Logger interface shape
// (commbus.Logger, coreengine/agents.Logger: Debug/Info/Warn/Error plus
// Bind for child-logger derivation) but backs it with a real structured
// writer instead of a log.Printf wrapper.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is one of the four recognized severities.
type Level string

const (
	Debug Level = "debug"
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

var levelRank = map[Level]int{Debug: 0, Info: 1, Warn: 2, Error: 3}

const redactedSentinel = "[REDACTED]"

var defaultRedactKeys = []string{
	"token", "key", "secret", "password", "apiKey", "authorization", "bearer", "session", "cookie",
}

// Logger is the interface every package in this module programs against,
// matching the teacher's Bind-chaining child-logger idiom.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Bind(kv ...any) Logger
}

// Option configures a *JSONLogger at construction time.
type Option func(*JSONLogger)

func WithWriter(w io.Writer) Option {
	return func(l *JSONLogger) { l.writer = w }
}

func WithLevel(level Level) Option {
	return func(l *JSONLogger) { l.minLevel = level }
}

func WithRedactKeys(keys []string) Option {
	return func(l *JSONLogger) {
		set := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			set[strings.ToLower(k)] = struct{}{}
		}
		l.redactKeys = set
	}
}

// WithMaxLineBytes bounds the serialized length of a single log line;
// beyond it the suffix is truncated and a marker appended.
func WithMaxLineBytes(n int) Option {
	return func(l *JSONLogger) { l.maxLineBytes = n }
}

// WithClock overrides the timestamp source (used by deterministic tests).
func WithClock(now func() time.Time) Option {
	return func(l *JSONLogger) { l.now = now }
}

// JSONLogger is the production implementation of Logger.
type JSONLogger struct {
	writer       io.Writer
	minLevel     Level
	redactKeys   map[string]struct{}
	maxLineBytes int
	now          func() time.Time

	mu      sync.Mutex
	context map[string]any
}

func New(opts ...Option) *JSONLogger {
	l := &JSONLogger{
		writer:       os.Stderr,
		minLevel:     Debug,
		maxLineBytes: 64 * 1024,
		now:          time.Now,
	}
	WithRedactKeys(defaultRedactKeys)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Logger = (*JSONLogger)(nil)

func (l *JSONLogger) Debug(msg string, kv ...any) { l.log(Debug, msg, kv) }
func (l *JSONLogger) Info(msg string, kv ...any)  { l.log(Info, msg, kv) }
func (l *JSONLogger) Warn(msg string, kv ...any)  { l.log(Warn, msg, kv) }
func (l *JSONLogger) Error(msg string, kv ...any) { l.log(Error, msg, kv) }

// Bind returns a child logger whose context is the copy-on-write merge of
// the parent's context and kv. Neither the parent's context nor kv is
// mutated.
func (l *JSONLogger) Bind(kv ...any) Logger {
	child := &JSONLogger{
		writer:       l.writer,
		minLevel:     l.minLevel,
		redactKeys:   l.redactKeys,
		maxLineBytes: l.maxLineBytes,
		now:          l.now,
		context:      mergeContext(l.snapshotContext(), kv),
	}
	return child
}

func (l *JSONLogger) snapshotContext() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneMap(l.context)
}

// log performs the pipeline order mandated by 4.B: enrich (non-mutating
// merge) -> redact (deep copy) -> sanitize (deep copy) -> serialize.
func (l *JSONLogger) log(level Level, msg string, kv []any) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	enriched := mergeContext(l.snapshotContext(), kv)

	entry := make(map[string]any, len(enriched)+3)
	entry["timestamp"] = l.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	entry["level"] = string(level)
	entry["message"] = msg
	for k, v := range enriched {
		entry[k] = v
	}

	redacted := redactValue(entry, l.redactKeys, true).(map[string]any)
	sanitized := sanitizeValue(redacted).(map[string]any)

	line, err := json.Marshal(sanitized)
	if err != nil {
		line = []byte(fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":"logger marshal error: %v"}`,
			entry["timestamp"], level, err))
	}

	truncatedLine, wasTruncated := truncate(line, l.maxLineBytes)
	l.write(truncatedLine)
	if wasTruncated {
		l.write(mustMarshalTruncationNotice(l.now(), msg))
	}
}

func (l *JSONLogger) write(line []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(line)
	l.writer.Write([]byte("\n"))
}

func mustMarshalTruncationNotice(ts time.Time, originalMsg string) []byte {
	notice := map[string]any{
		"timestamp": ts.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"level":     string(Warn),
		"message":   "log line truncated",
		"original":  originalMsg,
	}
	b, _ := json.Marshal(notice)
	return b
}

// truncate replaces an over-long line with a JSON object whose "truncated"
// field holds as much of the line's prefix as fits, followed by a "..."
// marker, so every emitted line stays one valid JSON object.
func truncate(line []byte, maxBytes int) ([]byte, bool) {
	if maxBytes <= 0 || len(line) <= maxBytes {
		return line, false
	}
	cut := maxBytes
	for {
		out, _ := json.Marshal(map[string]string{"truncated": string(line[:cut]) + "..."})
		if len(out) <= maxBytes || cut == 0 {
			return out, true
		}
		cut = max(cut-(len(out)-maxBytes), 0)
	}
}

// mergeContext performs the copy-on-write merge: base is cloned, then kv
// pairs (key, value, key, value, ...) are applied on top of the clone.
// Neither base nor the caller's kv slice/values are mutated.
func mergeContext(base map[string]any, kv []any) map[string]any {
	out := cloneMap(base)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// redactValue deep-copies value, replacing the value of any map key that
// case-insensitively matches the redact set with the sentinel. Array
// elements are traversed but never redacted by their parent key's name —
// only map keys trigger redaction.
func redactValue(value any, keys map[string]struct{}, isTop bool) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, sub := range v {
			if _, redact := keys[strings.ToLower(k)]; redact {
				out[k] = redactedSentinel
				continue
			}
			out[k] = redactValue(sub, keys, false)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, sub := range v {
			out[i] = redactValue(sub, keys, false)
		}
		return out
	default:
		return value
	}
}

// sanitizeValue deep-copies value, escaping C0 control characters in
// every string it finds. Non-strings pass through unchanged.
func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, sub := range v {
			out[k] = sanitizeValue(sub)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, sub := range v {
			out[i] = sanitizeValue(sub)
		}
		return out
	default:
		return value
	}
}

func sanitizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// Redact applies the same deep-copy, case-insensitive key-redaction
// pass the logger runs on every log entry to an arbitrary value,
// against the default redact key set. Callers that must size-check or
// surface state outside a log line (e.g. agent/getState) use this so
// redaction is never bypassed just because the value isn't being
// logged.
func Redact(value any) any {
	return redactValue(value, defaultRedactKeySet(), true)
}

func defaultRedactKeySet() map[string]struct{} {
	set := make(map[string]struct{}, len(defaultRedactKeys))
	for _, k := range defaultRedactKeys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return set
}

// SortedKeys returns m's keys in ascending lexicographic order, for
// callers that need a deterministic key order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
