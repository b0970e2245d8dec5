package workflow

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

type temporalLogger struct {
	s *zap.SugaredLogger
}

var _ log.Logger = temporalLogger{}

func newTemporalLogger(logger *zap.Logger) temporalLogger {
	return temporalLogger{s: logger.WithOptions(zap.AddCallerSkip(1)).Sugar().With("component", "temporal")}
}

func (l temporalLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l temporalLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l temporalLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l temporalLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
