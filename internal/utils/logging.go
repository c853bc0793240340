package utils

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Verbose enables diagnostic logging across the service.
var Verbose bool

var (
	loggerMu sync.RWMutex
	logger   = log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "audio",
	})
)

// ConfigureLogging updates the process-global logger settings.
// Call this early (from CLI) and whenever flags change.
func ConfigureLogging(verbose bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	Verbose = verbose
	if verbose {
		logger.SetLevel(log.DebugLevel)
		logger.SetReportCaller(true)
	} else {
		logger.SetLevel(log.InfoLevel)
		logger.SetReportCaller(false)
	}
}

// L returns the shared logger instance. Prefer the package helpers (`Info`, `Warn`, ...)
// unless you need `.With(...)` for a request-scoped logger.
func L() *log.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Logf maps to Debugf so it only shows up with `--verbose`.
func Logf(format string, args ...any) { L().Debugf(format, args...) }

func Debug(msg any, keyvals ...any) { L().Debug(msg, keyvals...) }
func Info(msg any, keyvals ...any)  { L().Info(msg, keyvals...) }
func Warn(msg any, keyvals ...any)  { L().Warn(msg, keyvals...) }
func Error(msg any, keyvals ...any) { L().Error(msg, keyvals...) }

// RedactKey keeps the last four characters of a credential for log correlation.
func RedactKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
