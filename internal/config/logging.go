package config

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Loggers groups the process logger with the per-category loggers. Every
// category also writes to the main outputs; error.log collects Error and above
// from all of them.
type Loggers struct {
	Main       *zap.Logger
	Moderation *zap.Logger
	Anonymous  *zap.Logger

	files []*lumberjack.Logger
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig = encoderConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func BuildLoggers(level string, logs LogConfig) (*Loggers, error) {
	if logs.Dir == "" {
		logger, err := BuildLogger(level)
		if err != nil {
			return nil, err
		}
		return &Loggers{Main: logger, Moderation: logger.Named("moderation"), Anonymous: logger.Named("anonymous")}, nil
	}

	if err := os.MkdirAll(logs.Dir, 0o755); err != nil {
		return nil, err
	}

	lvl := zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	encoder := zapcore.NewJSONEncoder(encoderConfig())

	l := &Loggers{}
	stdout := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl)
	general := zapcore.NewCore(encoder, zapcore.AddSync(l.file(logs, "general.log")), lvl)
	errs := zapcore.NewCore(encoder, zapcore.AddSync(l.file(logs, "error.log")), zapcore.ErrorLevel)
	base := zapcore.NewTee(stdout, general, errs)

	moderation := zapcore.NewCore(encoder, zapcore.AddSync(l.file(logs, "moderation.log")), zapcore.InfoLevel)
	anonymous := zapcore.NewCore(encoder, zapcore.AddSync(l.file(logs, "anonymous.log")), zapcore.InfoLevel)

	l.Main = zap.New(base, zap.AddCaller())
	l.Moderation = zap.New(zapcore.NewTee(base, moderation), zap.AddCaller()).Named("moderation")
	l.Anonymous = zap.New(zapcore.NewTee(base, anonymous), zap.AddCaller()).Named("anonymous")
	return l, nil
}

// Close flushes every logger and closes the rotating files.
func (l *Loggers) Close() {
	for _, logger := range []*zap.Logger{l.Main, l.Moderation, l.Anonymous} {
		if logger != nil {
			_ = logger.Sync()
		}
	}
	for _, f := range l.files {
		_ = f.Close()
	}
}

func (l *Loggers) file(logs LogConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(logs.Dir, name),
		MaxSize:    logs.MaxSizeMB,
		MaxBackups: logs.MaxBackups,
		MaxAge:     logs.MaxAgeDays,
		Compress:   logs.Compress,
	}
	l.files = append(l.files, f)
	return f
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "message"
	enc.LevelKey = "level"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
