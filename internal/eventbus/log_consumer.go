package eventbus

import (
	"context"
	"log/slog"
)

// LogConsumer logs every execution at debug level, and fallbacks at info.
type LogConsumer struct {
	logger *slog.Logger
}

func NewLogConsumer(logger *slog.Logger) *LogConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogConsumer{logger: logger.With("component", "runs")}
}

func (c *LogConsumer) HandleEvent(ctx context.Context, evt Event) error {
	level := slog.LevelDebug
	if evt.Reason != "" {
		level = slog.LevelInfo
	}
	c.logger.Log(ctx, level, "pipeline run",
		"id", evt.ID,
		"collection", evt.Collection,
		"path", string(evt.Path),
		"reason", evt.Reason,
		"documents", evt.Documents,
		"duration", evt.Duration)
	return nil
}
