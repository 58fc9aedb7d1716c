// Package logging provides the structured logger shared by every core
// component. It wraps logrus behind a small interface so packages that
// never need to log (internal/entry, internal/sparseindex) stay free of the
// dependency, the way the teacher kept bloom/sstable free of db-level
// concerns.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the subset of logrus's API the store actually uses.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New builds a text-formatted logrus logger writing to stderr. verbose
// lowers the level to Debug, mirroring the teacher's Options.Verbose knob.
func New(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// noop discards everything; used where a caller doesn't wire a logger.
type noop struct{}

func (noop) Debugf(string, ...interface{}) {}
func (noop) Infof(string, ...interface{})  {}
func (noop) Warnf(string, ...interface{})  {}
func (noop) Errorf(string, ...interface{}) {}

// Noop returns a Logger that discards all output.
func Noop() Logger { return noop{} }
