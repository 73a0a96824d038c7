package audit

import (
	"context"
	"log/slog"
)

// LogSink writes records as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, rec Record) error {
	s.logger.InfoContext(ctx, "gate decision",
		"event", "gate_decision",
		"id", rec.ID,
		"request_id", rec.RequestID,
		"verdict", rec.Verdict,
		"score", rec.Score,
		"reasons", rec.Reasons,
		"ip_prefix", rec.IPPrefix,
		"asn", rec.ASN,
		"provider", rec.Provider,
		"path", rec.Path,
		"fp", rec.Fingerprint,
		"variant", rec.Variant,
		"duration_ms", rec.DurationMS,
	)
	return nil
}
