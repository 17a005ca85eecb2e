// Package logging builds the logrus logger shared by every component of a
// run.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is one of DEBUG, INFO, WARNING, ERROR, CRITICAL.
	Level string

	// Format is "text", "json" or "auto" (text on a terminal).
	Format string

	// File, when set, receives a rotated copy of the log.
	File string

	// Output defaults to stderr.
	Output io.Writer
}

// Rotation settings of the log file.
const (
	MaxSizeMB  = 100
	MaxBackups = 7
	MaxAgeDays = 30
)

// ParseLevel maps a --debug value onto a logrus level. CRITICAL maps to
// the error level; see Critical.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "", "DEBUG":
		return logrus.DebugLevel, nil
	case "INFO":
		return logrus.InfoLevel, nil
	case "WARNING", "WARN":
		return logrus.WarnLevel, nil
	case "ERROR", "CRITICAL":
		return logrus.ErrorLevel, nil
	}
	return logrus.DebugLevel, fmt.Errorf("unknown log level %q", level)
}

// New returns a configured logger. The returned closer flushes and closes
// the log file; it is never nil.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	switch opts.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "", "auto":
		if isTerminal(out) {
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			log.SetFormatter(&logrus.JSONFormatter{})
		}
	default:
		return nil, nil, fmt.Errorf("unknown log format %q (want text, json or auto)", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		rotate := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotate)
		closer = rotate
	}
	log.SetOutput(out)
	return log, closer, nil
}

// Critical logs at error level with critical=true. It never exits.
func Critical(log logrus.FieldLogger, args ...any) {
	log.WithField("critical", true).Error(args...)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
