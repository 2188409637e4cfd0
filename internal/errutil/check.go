package errutil

import (
	"log/slog"
)

// LogMsg logs the error with a custom message if it is not nil.
func LogMsg(err error, msg string, args ...any) {
	if err != nil {
		slog.Warn(msg, withError(err, args)...)
	}
}

// ReportError logs an unexpected error.
// It funnels errors through a centralized reporting mechanism (currently slog).
func ReportError(err error, msg string, args ...any) {
	if err != nil {
		slog.Error(msg, withError(err, args)...)
	}
}

// Keep logs err like LogMsg and reports whether it was nil, for best-effort
// loops that must continue past a failing item.
func Keep(err error, msg string, args ...any) bool {
	LogMsg(err, msg, args...)
	return err == nil
}

func withError(err error, args []any) []any {
	return append([]any{"error", err}, args...)
}
