package broker

import (
	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
)

// retryLogger routes go-httpretry's key/value logging into zap.
type retryLogger struct {
	s *zap.SugaredLogger
}

// RetryLogger adapts logger for retry.WithLogger, so transport retries
// follow the configured level and encoding instead of slog's stderr default.
func RetryLogger(logger *zap.Logger) retry.Logger {
	return retryLogger{s: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l retryLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }

// Info only announces a retry already reported at Warn.
func (l retryLogger) Info(msg string, args ...any) { l.s.Debugw(msg, args...) }

func (l retryLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l retryLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
