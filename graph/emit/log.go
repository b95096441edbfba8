package emit

import (
	"context"
	"log/slog"
)

// LogEmitter writes events as structured slog records.
//
// Error events are logged at Error level, node_start at Debug, everything
// else at Info. The logger's handler decides the output format (tint for
// terminals, JSON for log shippers).
//
// Usage:
//
//	emitter := emit.NewLogEmitter(logger.With("module", "engine"))
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger falls back to slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event.
func (l *LogEmitter) Emit(event Event) {
	level := slog.LevelInfo
	switch {
	case event.IsError():
		level = slog.LevelError
	case event.Msg == MsgNodeStart:
		level = slog.LevelDebug
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs,
		slog.String("instance_id", event.InstanceID),
		slog.Int("step", event.Step),
	)
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node", event.NodeID))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}

	l.logger.LogAttrs(context.Background(), level, event.Msg, attrs...)
}
