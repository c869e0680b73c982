// Package definition holds the small cross-cutting interfaces the rest of
// pkg/ipc depends on, kept apart from the packages that implement them so
// a caller can swap an implementation without importing the machinery.
package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the pluggable logging contract used by the Router to report
// dispatch errors and recovered panics.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}

// LogrusLogger is the default Logger, backed by a dedicated logrus
// instance so toggling debug here never changes the global logrus level.
type LogrusLogger struct {
	entry *logrus.Logger
}

// NewDefaultLogger returns a LogrusLogger writing to stderr at info level.
func NewDefaultLogger() *LogrusLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{entry: l}
}

func (l *LogrusLogger) Info(v ...interface{}) { l.entry.Info(v...) }

func (l *LogrusLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }

func (l *LogrusLogger) Warn(v ...interface{}) { l.entry.Warn(v...) }

func (l *LogrusLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }

func (l *LogrusLogger) Error(v ...interface{}) { l.entry.Error(v...) }

func (l *LogrusLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }

func (l *LogrusLogger) Debug(v ...interface{}) { l.entry.Debug(v...) }

func (l *LogrusLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }

func (l *LogrusLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.SetLevel(logrus.InfoLevel)
	}
	return value
}
