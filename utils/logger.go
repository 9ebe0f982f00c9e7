package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// TimestampFormat is ISO-8601 with millisecond resolution.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

const (
	DEBUG = iota
	INFO
	WARN
	ERROR
	FATAL
)

func init() {
	zerolog.TimeFieldFormat = TimestampFormat
}

// Logger writes levelled JSON lines to the error log.
type Logger struct {
	zl     zerolog.Logger
	closer io.Closer
}

// Log is the process-wide logger; it discards everything until InitLogger runs.
var Log = &Logger{zl: zerolog.Nop()}

// InitLogger opens (appending) the error log at path and installs it as Log.
func InitLogger(path string, level int) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := MkDir(dir); err != nil {
			return nil, fmt.Errorf("error creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	lg := NewLogger(f, level)
	lg.closer = f
	Log = lg
	return lg, nil
}

func NewLogger(w io.Writer, level int) *Logger {
	zl := zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Component returns a child logger tagged with the component name.
func (lg *Logger) Component(name string) zerolog.Logger {
	return lg.zl.With().Str("component", name).Logger()
}

func (lg *Logger) Info(m string, a ...any)  { lg.zl.Info().Msgf(m, a...) }
func (lg *Logger) Warn(m string, a ...any)  { lg.zl.Warn().Msgf(m, a...) }
func (lg *Logger) Error(m string, a ...any) { lg.zl.Error().Msgf(m, a...) }

func (lg *Logger) Close() error {
	if lg.closer == nil {
		return nil
	}
	err := lg.closer.Close()
	lg.closer = nil
	return err
}

// ParseLevel maps a level name to one of the DEBUG..FATAL constants.
func ParseLevel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func zerologLevel(level int) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}
