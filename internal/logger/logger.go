package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log levels
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelMap = map[int]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// base is the root logger every component logger derives from.
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Logger wraps zerolog with a component tag and printf-style helpers
type Logger struct {
	component string
	zl        *zerolog.Logger
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Default to INFO in production, DEBUG in development
	if IsDevelopment() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Init configures the output format and minimum level for all loggers.
// level is one of debug|info|warn|error; pretty switches to console output.
func Init(level string, pretty bool) {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	}
	base = zerolog.New(out).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// SetOutput redirects every logger created afterwards. Used by tests.
func SetOutput(w io.Writer) {
	base = zerolog.New(w).With().Timestamp().Logger()
}

// New creates a new logger for a specific component
func New(component string) *Logger {
	return &Logger{component: component}
}

// SetMinLevel allows changing the minimum log level at runtime
func SetMinLevel(level int) {
	if lvl, ok := levelMap[level]; ok {
		zerolog.SetGlobalLevel(lvl)
	}
}

// With returns a child logger that attaches key=value to every entry.
func (l *Logger) With(key string, value interface{}) *Logger {
	zl := l.logger().With().Interface(key, value).Logger()
	return &Logger{component: l.component, zl: &zl}
}

// logger resolves lazily so package-level loggers pick up Init.
func (l *Logger) logger() *zerolog.Logger {
	if l.zl != nil {
		return l.zl
	}
	zl := base.With().Str("component", l.component).Logger()
	return &zl
}

func (l *Logger) logf(level int, format string, args ...interface{}) {
	lvl, ok := levelMap[level]
	if !ok {
		lvl = zerolog.InfoLevel
	}
	l.logger().WithLevel(lvl).Msg(fmt.Sprintf(format, args...))
}

// Debug logs debug information
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

// Info logs information messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "development" // Default to development
	}
	return env
}

// IsDevelopment returns true if the current environment is development
func IsDevelopment() bool {
	return GetAppEnv() == "development"
}
