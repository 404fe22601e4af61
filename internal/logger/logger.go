package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log message
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, defaulting to INFO
func ParseLevel(level string) Level {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "fatal", "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Format determines how log lines are rendered
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat converts a string to a Format, defaulting to text
func ParseFormat(format string) Format {
	switch format {
	case "json", "JSON":
		return FormatJSON
	default:
		return FormatText
	}
}

// Logger provides leveled logging with configurable output format
type Logger struct {
	level  Level
	format Format
	output io.Writer
	mu     sync.Mutex
}

// Config holds logger configuration
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
	Debug  bool // Convenience flag to force debug level
}

// New creates a text logger writing to stdout.
// debug lowers the threshold to LevelDebug.
func New(debug bool) *Logger {
	level := LevelInfo
	if debug {
		level = LevelDebug
	}
	return NewWithConfig(Config{Level: level, Format: FormatText})
}

// NewWithConfig creates a logger with detailed configuration
func NewWithConfig(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	level := cfg.Level
	if cfg.Debug {
		level = LevelDebug
	}
	return &Logger{
		level:  level,
		format: cfg.Format,
		output: cfg.Output,
	}
}

type logEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// log is the internal logging implementation
func (l *Logger) log(level Level, component, message string, fields map[string]any) {
	if level < l.level {
		return
	}

	entry := logEntry{
		Timestamp: time.Now().Format("2006/01/02 15:04:05.000000"),
		Level:     level.String(),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	var line string
	switch l.format {
	case FormatJSON:
		data, err := json.Marshal(entry)
		if err != nil {
			line = fmt.Sprintf("%s [%s] %s\n", entry.Timestamp, entry.Level, message)
		} else {
			line = string(data) + "\n"
		}
	default:
		if component != "" {
			line = fmt.Sprintf("%s [%s] [%s] %s", entry.Timestamp, entry.Level, component, message)
		} else {
			line = fmt.Sprintf("%s [%s] %s", entry.Timestamp, entry.Level, message)
		}
		if len(fields) > 0 {
			line += " |"
			for k, v := range fields {
				line += fmt.Sprintf(" %s=%v", k, v)
			}
		}
		line += "\n"
	}

	l.mu.Lock()
	fmt.Fprint(l.output, line)
	l.mu.Unlock()

	if level == LevelFatal {
		os.Exit(1)
	}
}

// Debug logs a debug message (only if debug level is enabled)
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, "", fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, "", fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, "", fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, "", fmt.Sprintf(format, args...), nil)
}

// Fatal logs a fatal error and exits
func (l *Logger) Fatal(format string, args ...any) {
	l.log(LevelFatal, "", fmt.Sprintf(format, args...), nil)
}

// With returns a contextual logger tagged with a component name
func (l *Logger) With(component string) *ContextLogger {
	return &ContextLogger{logger: l, component: component}
}

// ContextLogger wraps Logger with a component name for contextual logging
type ContextLogger struct {
	logger    *Logger
	component string
}

func (c *ContextLogger) Debug(format string, args ...any) {
	c.logger.log(LevelDebug, c.component, fmt.Sprintf(format, args...), nil)
}

func (c *ContextLogger) Info(format string, args ...any) {
	c.logger.log(LevelInfo, c.component, fmt.Sprintf(format, args...), nil)
}

func (c *ContextLogger) Warn(format string, args ...any) {
	c.logger.log(LevelWarn, c.component, fmt.Sprintf(format, args...), nil)
}

func (c *ContextLogger) Error(format string, args ...any) {
	c.logger.log(LevelError, c.component, fmt.Sprintf(format, args...), nil)
}

func (c *ContextLogger) Fatal(format string, args ...any) {
	c.logger.log(LevelFatal, c.component, fmt.Sprintf(format, args...), nil)
}

// DebugWithFields logs a debug message with structured fields
func (c *ContextLogger) DebugWithFields(message string, fields map[string]any) {
	c.logger.log(LevelDebug, c.component, message, fields)
}

// InfoWithFields logs an info message with structured fields
func (c *ContextLogger) InfoWithFields(message string, fields map[string]any) {
	c.logger.log(LevelInfo, c.component, message, fields)
}

// WarnWithFields logs a warning message with structured fields
func (c *ContextLogger) WarnWithFields(message string, fields map[string]any) {
	c.logger.log(LevelWarn, c.component, message, fields)
}
