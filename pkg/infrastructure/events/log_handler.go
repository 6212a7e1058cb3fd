package events

import (
	"context"
	"log/slog"
)

// LogHandler writes every event it is subscribed to onto a structured logger
type LogHandler struct {
	logger *slog.Logger
	level  slog.Level
}

var _ EventHandler = (*LogHandler)(nil)

func NewLogHandler(logger *slog.Logger, level slog.Level) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger, level: level}
}

func (h *LogHandler) Handle(event Event) error {
	h.logger.Log(context.Background(), h.level, "event",
		"type", event.Type(),
		"stream", event.StreamID(),
		"version", event.Version(),
		"at", event.Timestamp(),
		"data", event.Data())
	return nil
}

func (h *LogHandler) CanHandle(eventType string) bool { return true }
