// Package log wires up the structured logger shared by the
// orchestrator, scheduler, and backends.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing to stderr at level, defaulting to Info
// for an empty or unrecognized level string.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.Level = parsed

	return l
}

// ForNode returns an entry carrying a node's source key.
func ForNode(l logrus.FieldLogger, sourceKey string) *logrus.Entry {
	return l.WithField("source_key", sourceKey)
}

// ForBuild returns an entry carrying a node's source key, its resolved
// build key, and the backend handling it.
func ForBuild(l logrus.FieldLogger, sourceKey, buildKey, backendName string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"source_key": sourceKey,
		"build_key":  buildKey,
		"backend":    backendName,
	})
}
