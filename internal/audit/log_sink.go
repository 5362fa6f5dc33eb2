package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink пишет аудит в структурированный лог, когда БД не настроена.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit-sink")}
}

func (s *LogSink) WriteBatch(_ context.Context, records []CommandRecord) error {
	for _, r := range records {
		s.logger.Info("command",
			zap.String("id", r.ID),
			zap.String("trace_id", r.TraceID),
			zap.String("constraint_id", r.ConstraintID),
			zap.String("command", r.Command),
			zap.String("outcome", string(r.Outcome)),
			zap.String("reason", r.Reason),
			zap.Int64("version", r.Version),
			zap.Int64("duration_ms", r.DurationMs),
			zap.Time("ts", r.Timestamp),
		)
	}
	return nil
}
