package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers don't need to import logrus directly.
type Fields = logrus.Fields

type Logger struct {
	entry *logrus.Logger
}

func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: l}
}

// Configure sets the level ("debug", "info", ...) and the output format
// ("json" or "text"). An unknown level leaves the current one in place.
func (l *Logger) Configure(level, format string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.entry.SetLevel(lvl)
	} else if level != "" {
		l.entry.Warnf("Invalid log level %q, keeping %s", level, l.entry.GetLevel())
	}
	if format == "json" {
		l.entry.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.entry.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func (l *Logger) SetOutput(w io.Writer) {
	l.entry.SetOutput(w)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}

func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.entry.WithFields(fields)
}

// Global logger instance
var GlobalLogger = New()

// Convenience functions
func Info(format string, v ...interface{}) {
	GlobalLogger.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	GlobalLogger.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	GlobalLogger.Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	GlobalLogger.Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	GlobalLogger.Fatal(format, v...)
}

func WithFields(fields Fields) *logrus.Entry {
	return GlobalLogger.WithFields(fields)
}
