package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Levels beyond slog's four, named after the levels accepted in logging.level.
const (
	LevelTrace    = slog.Level(-8)
	LevelSuccess  = slog.Level(2)
	LevelCritical = slog.Level(12)
)

var levelNames = map[string]slog.Level{
	"TRACE":    LevelTrace,
	"DEBUG":    slog.LevelDebug,
	"INFO":     slog.LevelInfo,
	"SUCCESS":  LevelSuccess,
	"WARN":     slog.LevelWarn,
	"WARNING":  slog.LevelWarn,
	"ERROR":    slog.LevelError,
	"CRITICAL": LevelCritical,
	"FATAL":    LevelCritical,
}

// ParseLevel converts a level name (case-insensitive) to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	lvl, ok := levelNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// levelLabel names the custom levels so they don't print as "INFO+2".
func levelLabel(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelSuccess:
		return "SUCCESS"
	case LevelCritical:
		return "CRITICAL"
	}
	return l.String()
}
