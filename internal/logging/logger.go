package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithOwner returns a logger with the owner attached. Use this for all
// logging within a per-owner operation.
func WithOwner(userID string) *slog.Logger {
	return slog.With("user_id", userID)
}

// WithTurn returns a logger scoped to one conversational turn.
func WithTurn(logger *slog.Logger, conversationID string, turn int) *slog.Logger {
	return logger.With(
		"conversation_id", conversationID,
		"turn", turn,
	)
}
