package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string { return levelNames[l] }

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Logger writes one JSON object per line. Child loggers created with With
// share the parent's output and lock.
type Logger struct {
	out       *output
	level     Level
	redactPII bool
	fields    []interface{}
	now       func() time.Time
}

type output struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a logger writing to w at the given level with redaction on.
func New(w io.Writer, level Level) *Logger {
	return &Logger{out: &output{w: w}, level: level, redactPII: true, now: time.Now}
}

var defaultLogger = New(os.Stderr, INFO)

// Default returns the process-wide logger used by the package functions.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields) }

// With returns a child logger that adds the given key/value pairs to every
// entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	child := *l
	child.fields = append(append([]interface{}{}, l.fields...), fields...)
	return &child
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  l.now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	l.addFields(entry, l.fields)
	l.addFields(entry, fields)

	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":"ERROR","msg":"log encode failed: %v"}`, err))
	}
	l.out.mu.Lock()
	fmt.Fprintln(l.out.w, string(data))
	l.out.mu.Unlock()
}

// addFields parses key/value pairs. A trailing key without a value is kept
// under "!BADKEY" so it is not silently lost.
func (l *Logger) addFields(entry map[string]interface{}, fields []interface{}) {
	for i := 0; i < len(fields); i += 2 {
		if i == len(fields)-1 {
			entry["!BADKEY"] = fmt.Sprintf("%v", fields[i])
			return
		}
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if isSecretKey(key) {
			val = redacted
		} else if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}
}
