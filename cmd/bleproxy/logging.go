package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// configureLogger builds a logrus.Logger honoring cfg.LogLevel/cfg.LogFile
// (already merged from flags/file/defaults by internal/config), falling
// back to a TTY-aware formatter when logging to a terminal and a plain one
// otherwise.
func configureLogger(logLevel, logFile string) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, errInvalidLogLevel(logLevel)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	var out *os.File = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   !term.IsTerminal(int(out.Fd())),
	})

	return logger, nil
}

func errInvalidLogLevel(level string) error {
	return &configError{msg: "invalid log level: " + level + " (must be debug, info, warn, or error)"}
}
