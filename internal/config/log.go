package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process logger. Commands replace it with NewLogger's result at startup.
var Log = logrus.New()

// Debugf logs debug messages when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		Log.Debugf(format, args...)
	}
}

// NewLogger builds a logrus logger from cfg. Verbose forces debug level.
// The returned closer must be called to release a log file.
func NewLogger(cfg LoggerConfig, verbose bool) (*logrus.Logger, func() error, error) {
	out, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(parseLevel(cfg.Level))
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: out == os.Stderr || out == os.Stdout})
	}
	return l, closer, nil
}

func parseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
