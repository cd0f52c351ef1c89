package queue

import "go.uber.org/zap"

// ZapLogger adapts a zap logger to asynq's Logger interface so worker
// internals land in the same structured stream as application logs.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps the given logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debug(args ...interface{}) { z.s.Debug(args...) }
func (z *ZapLogger) Info(args ...interface{})  { z.s.Info(args...) }
func (z *ZapLogger) Warn(args ...interface{})  { z.s.Warn(args...) }
func (z *ZapLogger) Error(args ...interface{}) { z.s.Error(args...) }
func (z *ZapLogger) Fatal(args ...interface{}) { z.s.Fatal(args...) }
