package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sqlward/sqlward/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
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

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Logger provides structured logging capabilities
type Logger struct {
	level  LogLevel
	format string
	output io.Writer
	mu     sync.Mutex
	fields map[string]interface{}
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg config.LoggingConfig) *Logger {
	logger := &Logger{
		level:  parseLogLevel(cfg.Level),
		format: strings.ToLower(cfg.Format),
		fields: make(map[string]interface{}),
	}

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		logger.output = os.Stdout
	default:
		logger.output = os.Stderr
	}

	return logger
}

// NewTestLogger creates a logger that writes to the given writer, for tests
func NewTestLogger(w io.Writer) *Logger {
	return &Logger{
		level:  DebugLevel,
		format: "json",
		output: w,
		fields: make(map[string]interface{}),
	}
}

// WithFields returns a child logger carrying the given fields on every entry
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}

	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: merged,
	}
}

// WithField returns a child logger carrying one extra field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DebugLevel, msg, nil, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(InfoLevel, msg, nil, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WarnLevel, msg, nil, fields...)
}

func (l *Logger) Error(msg string, err error, fields ...map[string]interface{}) {
	l.log(ErrorLevel, msg, err, fields...)
}

func (l *Logger) log(level LogLevel, msg string, err error, extra ...map[string]interface{}) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   msg,
	}

	if len(l.fields) > 0 || len(extra) > 0 {
		entry.Fields = make(map[string]interface{})
		for k, v := range l.fields {
			entry.Fields[k] = v
		}

		for _, m := range extra {
			for k, v := range m {
				entry.Fields[k] = v
			}
		}
	}

	if err != nil {
		entry.Error = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		data, marshalErr := json.Marshal(entry)
		if marshalErr != nil {
			fmt.Fprintf(l.output, "%s [%s] %s (marshal error: %v)\n",
				entry.Timestamp, entry.Level, entry.Message, marshalErr)
			return
		}

		fmt.Fprintln(l.output, string(data))

		return
	}

	var sb strings.Builder
	sb.WriteString(entry.Timestamp)
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")
	sb.WriteString(entry.Message)

	for k, v := range entry.Fields {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}

	if entry.Error != "" {
		sb.WriteString(" error=")
		sb.WriteString(entry.Error)
	}

	fmt.Fprintln(l.output, sb.String())
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}
