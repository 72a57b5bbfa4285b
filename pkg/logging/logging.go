// Package logging configures the logrus logger shared by all chksrv
// components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely chksrv logs.
type Config struct {
	// Level is a logrus level name ("debug", "info", "warning", ...).
	Level string

	// File, when set, additionally writes logs to a rotating file.
	File string

	// Out is the primary destination. Defaults to os.Stdout.
	Out io.Writer
}

// Setup builds a logger from cfg.
func Setup(cfg Config) (*logrus.Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "warning"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return logger, nil
}

// Discard returns a logger that drops everything. Components use it when
// no logger is configured.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
