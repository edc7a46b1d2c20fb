package logger

import (
	"log/slog"
	"os"
)

// New returns the application's structured logger. JSON output so log
// aggregation can index request_id/group_id/session_id attributes.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
