package otp

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers a code to the account holder.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log. It stands in for an SMS gateway.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phone, code string) error {
	s.logger.Info("Password reset code issued",
		zap.String("phone", phone),
		zap.String("code", code),
	)
	return nil
}
