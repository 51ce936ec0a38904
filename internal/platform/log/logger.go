// Package log builds the process logger and the optional Sentry hub.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// ServiceName tags every entry so editor host logs can be told apart from client logs.
const ServiceName = "growi-client"

// NewLogger builds a JSON logger on stderr at the given level. Stdout is left to command output.
func NewLogger(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.SetLevel(logrus.InfoLevel)
	logger.AddHook(serviceHook{})

	if strings.TrimSpace(level) == "" {
		return logger, nil
	}

	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, eris.Wrapf(err, "invalid log level: %s", level)
	}
	logger.SetLevel(parsed)

	return logger, nil
}

// Discard returns a logger that drops every entry. CLI commands that print results use it
// so log lines never mix with command output.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = ServiceName
	}
	return nil
}
