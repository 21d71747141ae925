package groot

import (
	"log/slog"
	"os"
	"strings"
)

// logger holds the logger configured for groot's diagnostics, set from
// GROOT_LOG_LEVEL or by SetLogger. No decode path writes to it.
var logger = defaultLogger()

// GROOT_LOG_LEVEL overrides slog.Default()'s level for groot's own log
// lines, one of "debug", "info", "warn", "error" (case-insensitive); any
// other value, including unset, falls back to slog.Default() unchanged.
func defaultLogger() *slog.Logger {
	lvl, ok := parseLevel(os.Getenv("GROOT_LOG_LEVEL"))
	if !ok {
		return slog.Default()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// SetLogger overrides the logger used for groot's internal diagnostics.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	logger = l
}
