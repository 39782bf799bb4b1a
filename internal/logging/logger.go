// Package logging adapts zap to the runtime.Logger interface used across the server, so
// code runs unchanged inside Nakama and in the standalone binary.
package logging

import (
	"fmt"
	"maps"

	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger implements runtime.Logger on a zap.SugaredLogger.
type Logger struct {
	sugar  *zap.SugaredLogger
	fields map[string]interface{}
}

// New builds a JSON production logger at the given level ("debug", "info", "warn", "error").
func New(level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return Wrap(z), nil
}

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar(), fields: map[string]interface{}{}}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop())
}

func (l *Logger) Debug(format string, v ...interface{}) { l.sugar.Debugf(format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.sugar.Infof(format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.sugar.Warnf(format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.sugar.Errorf(format, v...) }

func (l *Logger) WithField(key string, v interface{}) runtime.Logger {
	return l.WithFields(map[string]interface{}{key: v})
}

func (l *Logger) WithFields(fields map[string]interface{}) runtime.Logger {
	merged := maps.Clone(l.fields)
	args := make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		merged[k] = v
		args = append(args, k, v)
	}
	return &Logger{sugar: l.sugar.With(args...), fields: merged}
}

func (l *Logger) Fields() map[string]interface{} {
	return maps.Clone(l.fields)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

var _ runtime.Logger = (*Logger)(nil)
