// Package logging provides leveled, structured logging for the mtpt
// tools. Output is plain text by default and JSON when requested, so the
// utilities can be driven by scripts that want machine-readable
// diagnostics.
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

// Level classifies log entries.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", s)
	}
}

// Format selects the output encoding.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

// Fields carries structured key/value context on an entry.
type Fields map[string]any

type entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields,omitempty"`
}

// Logger writes leveled entries to a single destination. Methods are safe
// for concurrent use; the traversal workers share one logger.
type Logger struct {
	mu        sync.Mutex
	level     Level
	format    Format
	out       io.Writer
	component string
}

// New creates a logger writing to out at the given level.
func New(out io.Writer, level Level, format Format) *Logger {
	return &Logger{level: level, format: format, out: out}
}

// WithComponent returns a logger that tags every entry with a component
// name, sharing the parent's destination.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{level: l.level, format: l.format, out: l.out, component: component}
}

// SetLevel changes the minimum level that produces output.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) log(level Level, msg string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	e := entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
		Fields:    fields,
	}
	switch l.format {
	case JSONFormat:
		b, err := json.Marshal(e)
		if err != nil {
			fmt.Fprintf(l.out, "logging: marshal failed: %v\n", err)
			return
		}
		l.out.Write(append(b, '\n'))
	default:
		var sb strings.Builder
		sb.WriteString(e.Timestamp.Format("2006-01-02 15:04:05"))
		sb.WriteByte(' ')
		sb.WriteString(e.Level)
		if e.Component != "" {
			sb.WriteString(" [")
			sb.WriteString(e.Component)
			sb.WriteByte(']')
		}
		sb.WriteByte(' ')
		sb.WriteString(e.Message)
		if len(e.Fields) > 0 {
			keys := make([]string, 0, len(e.Fields))
			for k := range e.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
			}
		}
		sb.WriteByte('\n')
		io.WriteString(l.out, sb.String())
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields Fields) { l.log(DebugLevel, msg, fields) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields Fields) { l.log(InfoLevel, msg, fields) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields Fields) { l.log(WarnLevel, msg, fields) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields Fields) { l.log(ErrorLevel, msg, fields) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...any) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// NewFromNames builds a logger from level and format names, as found in
// the configuration file. Unknown names fall back to info and text.
func NewFromNames(out io.Writer, level, format string) *Logger {
	lv, err := ParseLevel(level)
	if err != nil {
		lv = InfoLevel
	}
	f := TextFormat
	if format == "json" {
		f = JSONFormat
	}
	return New(out, lv, f)
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(os.Stderr, InfoLevel, TextFormat)
)

// Default returns the process-wide logger used by the command-line tools.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}
