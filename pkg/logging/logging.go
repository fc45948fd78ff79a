// Package logging defines the logger type shared by image-sorter components.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface accepted by image-sorter components. It is
// satisfied by both *logrus.Logger and *logrus.Entry, so callers can hand
// out component-scoped loggers created with WithField.
type Logger interface {
	logrus.FieldLogger
	// Writer returns a pipe whose lines are logged at info level. Callers
	// must close it when done.
	Writer() *io.PipeWriter
}

// Discard returns a Logger that drops everything. It is intended for tests
// and for callers that do not care about diagnostics.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
