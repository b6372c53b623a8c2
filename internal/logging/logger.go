// Package logging implements core.Logger on top of zap, with the
// OpenTelemetry log bridge attached.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gcbbot/internal/core"
)

// ZapLogger implements core.Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// New creates a console logger at the given level ("DEBUG".."FATAL").
func New(levelStr string) (*ZapLogger, error) {
	var level zapcore.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = zap.DebugLevel
	case "INFO", "":
		level = zap.InfoLevel
	case "WARN":
		level = zap.WarnLevel
	case "ERROR":
		level = zap.ErrorLevel
	case "FATAL":
		level = zap.FatalLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", levelStr)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)
	bridge := otelzap.NewCore("gcbbot", otelzap.WithLoggerProvider(global.GetLoggerProvider()))

	return &ZapLogger{
		logger: zap.New(zapcore.NewTee(console, bridge), zap.AddCaller(), zap.AddCallerSkip(1)),
	}, nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop()}
}

func (l *ZapLogger) fields(kv []any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		out = append(out, zap.Any(key, kv[i+1]))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, l.fields(kv)...) }
func (l *ZapLogger) Info(msg string, kv ...any)  { l.logger.Info(msg, l.fields(kv)...) }
func (l *ZapLogger) Warn(msg string, kv ...any)  { l.logger.Warn(msg, l.fields(kv)...) }
func (l *ZapLogger) Error(msg string, kv ...any) { l.logger.Error(msg, l.fields(kv)...) }
func (l *ZapLogger) Fatal(msg string, kv ...any) { l.logger.Fatal(msg, l.fields(kv)...) }

func (l *ZapLogger) WithField(key string, value any) core.Logger {
	return &ZapLogger{logger: l.logger.With(zap.Any(key, value))}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error { return l.logger.Sync() }
