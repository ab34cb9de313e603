// Package logging provides structured logging for HazSync.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// global logger instance
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger.
func Init(out io.Writer, level logrus.Level) {
	once.Do(func() {
		global = logrus.New()
		global.SetOutput(out)
		global.SetLevel(level)
		global.SetFormatter(&logrus.JSONFormatter{})
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, logrus.InfoLevel)
	}
	return global
}

// getContext merges multiple context maps into logrus fields.
func getContext(context ...map[string]interface{}) logrus.Fields {
	if len(context) == 0 {
		return nil
	}
	merged := make(logrus.Fields)
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

// Debug logs a debug message.
func Debug(message string, context ...map[string]interface{}) {
	Get().WithFields(getContext(context...)).Debug(message)
}

// Info logs an info message.
func Info(message string, context ...map[string]interface{}) {
	Get().WithFields(getContext(context...)).Info(message)
}

// Warn logs a warning message.
func Warn(message string, context ...map[string]interface{}) {
	Get().WithFields(getContext(context...)).Warn(message)
}

// Error logs an error message.
func Error(message string, err error, context ...map[string]interface{}) {
	entry := Get().WithFields(getContext(context...))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
