// Package logx provides structured key-value logging for all bedcast
// components, backed by logrus.
package logx

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with a key-value call convention:
//
//	logger.Info("Forecast completed", "facility_id", id, "horizon", days)
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger at the given level tagged with a component name.
// Unknown levels fall back to info.
func NewLogger(level, component string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	entry := logrus.NewEntry(l)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry}
}

// WithComponent returns a derived logger tagged with a sub-component name.
func (lg *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: lg.entry.WithField("component", component)}
}

// Debug logs at debug level with key-value pairs.
func (lg *Logger) Debug(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Debug(msg)
}

// Info logs at info level with key-value pairs.
func (lg *Logger) Info(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Info(msg)
}

// Warn logs at warn level with key-value pairs.
func (lg *Logger) Warn(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Warn(msg)
}

// Error logs at error level with key-value pairs.
func (lg *Logger) Error(msg string, kv ...interface{}) {
	lg.entry.WithFields(fields(kv)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		f[key] = kv[i+1]
	}
	if len(kv)%2 != 0 {
		f["EXTRA_VALUE"] = kv[len(kv)-1]
	}
	return f
}
