// Package logger wraps a zap sugared logger with the key/value call style
// used throughout codemodctl. Diagnostics always go to stderr so stdout stays
// free for command output.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a leveled key/value logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a stderr logger for mode "dev" or "prod". Unknown modes fall
// back to dev.
func New(mode string) *Logger {
	return NewTo(mode, os.Stderr)
}

// NewTo builds a logger for mode writing to w. dev logs everything from
// debug up in console form; prod logs info and above as JSON.
func NewTo(mode string, w io.Writer) *Logger {
	var enc zapcore.Encoder
	level := zapcore.DebugLevel
	switch strings.ToLower(mode) {
	case "prod", "production":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		level = zapcore.InfoLevel
	default:
		cfg := zap.NewDevelopmentEncoderConfig()
		if w == os.Stderr {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return &Logger{sugar: zap.New(core).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// With returns a child logger that adds keysAndValues to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}
