package nxlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger implements Logger using logrus.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a Logger backed by logrus with the given level
// ("trace".."panic") and format ("json" or anything else for text).
func NewLogrusLogger(level, format string) (*LogrusLogger, error) {
	base := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	base.SetOutput(os.Stdout)
	base.SetReportCaller(false)

	return &LogrusLogger{entry: logrus.NewEntry(base)}, nil
}

func (l *LogrusLogger) Trace(msg string, fields ...Field) { l.entry.WithFields(toLogrus(fields)).Trace(msg) }
func (l *LogrusLogger) Debug(msg string, fields ...Field) { l.entry.WithFields(toLogrus(fields)).Debug(msg) }
func (l *LogrusLogger) Info(msg string, fields ...Field)  { l.entry.WithFields(toLogrus(fields)).Info(msg) }
func (l *LogrusLogger) Warn(msg string, fields ...Field)  { l.entry.WithFields(toLogrus(fields)).Warn(msg) }
func (l *LogrusLogger) Error(msg string, fields ...Field) { l.entry.WithFields(toLogrus(fields)).Error(msg) }
func (l *LogrusLogger) Fatal(msg string, fields ...Field) { l.entry.WithFields(toLogrus(fields)).Fatal(msg) }

// WithFields returns a child logger with the given fields attached to
// every subsequent record.
func (l *LogrusLogger) WithFields(fields ...Field) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(toLogrus(fields))}
}

func toLogrus(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

var global Logger

// InitGlobal initializes the package-level fallback logger, used by
// components that cannot receive a Logger through the Services registry
// (e.g. a panic-recovery path reached before a FilterEnvironment exists).
func InitGlobal(level, format string) error {
	l, err := NewLogrusLogger(level, format)
	if err != nil {
		return err
	}
	global = l
	return nil
}

// Global returns the package-level fallback logger, initializing a
// default info/json logger on first use if InitGlobal was never called.
func Global() Logger {
	if global == nil {
		l, _ := NewLogrusLogger("info", "json")
		global = l
	}
	return global
}
