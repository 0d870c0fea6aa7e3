// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Config represents logger configuration.
type Config struct {
	Output string // "stdout", "stderr", or file path
	Level  string // "debug", "info", "warn", "error"
	File   string // log file path (used when Output is not stdout/stderr)
}

func (c Config) console() bool {
	switch strings.ToLower(c.Output) {
	case "stdout", "stderr", "":
		return true
	}
	return false
}

// Init initializes the global zerolog logger with the given configuration.
// The returned closer releases the log file, if one was opened.
func Init(cfg Config) (io.Closer, error) {
	var (
		writer io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		path := cfg.File
		if path == "" {
			path = cfg.Output
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open log file %s", path)
		}
		writer = f
		closer = f
	}

	level := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.CallerMarshalFunc = shortCaller

	logger := New(writer, level, cfg.console())
	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger

	return closer, nil
}

// New builds a logger writing to w. Console output is human readable,
// otherwise one JSON object is written per line. Callers are added at
// debug level.
func New(w io.Writer, level zerolog.Level, console bool) zerolog.Logger {
	if console {
		cw := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.TimeOnly,
		}
		if level == zerolog.DebugLevel {
			cw.PartsOrder = []string{"time", "level", "message", "caller"}
			cw.FormatCaller = func(i interface{}) string {
				s, _ := i.(string)
				return "(" + s + ")"
			}
			return zerolog.New(cw).Level(level).With().Timestamp().Caller().Logger()
		}
		return zerolog.New(cw).Level(level).With().Timestamp().Logger()
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if level == zerolog.DebugLevel {
		return ctx.Caller().Logger()
	}
	return ctx.Logger()
}

// ParseLevel parses the log level string.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// shortCaller keeps the last directory and file name.
func shortCaller(pc uintptr, file string, line int) string {
	parts := strings.Split(file, string(filepath.Separator))
	if len(parts) > 1 {
		return filepath.Join(parts[len(parts)-2:]...) + ":" + strconv.Itoa(line)
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
