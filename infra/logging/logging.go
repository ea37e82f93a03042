// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Level  string
	Format string // text | json
	File   string // empty means stderr
}

// Setup applies cfg to the standard logger. The returned closer releases
// the log file, if any.
func Setup(cfg Config) (io.Closer, error) {
	return configure(logrus.StandardLogger(), cfg)
}

func configure(l *logrus.Logger, cfg Config) (io.Closer, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.Level)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Newf("unknown log format %q", cfg.Format)
	}

	if cfg.File == "" {
		l.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", cfg.File)
	}
	l.SetOutput(f)
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
