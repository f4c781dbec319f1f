package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
)

func init() {
	level := zapcore.InfoLevel
	levelStr := strings.TrimSpace(os.Getenv("LANSHARE_LOG_LEVEL"))
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	if levelStr != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
	}

	Log = zap.New(consoleCore(level), zap.AddCaller())
	Sugar = Log.Sugar()
}

func encoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return encoderConfig
}

func consoleCore(level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
}

// Setup replaces the global logger. Output always goes to stderr; when file is
// non-empty it is also appended to that file.
func Setup(levelStr, file string) error {
	level := zapcore.InfoLevel
	if levelStr != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(levelStr))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", levelStr, err)
		}
	}

	cores := []zapcore.Core{consoleCore(level)}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig()),
			zapcore.AddSync(f),
			level,
		))
	}

	Log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	Sugar = Log.Sugar()
	return nil
}
