package monitor

import "go.uber.org/zap"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink delivers alerts to the structured log.
type LogSink struct {
	Logger *zap.Logger
}

// Send implements AlertSink.
func (s LogSink) Send(message string) error {
	s.Logger.Warn("ledger alert", zap.String("alert", message))
	return nil
}
