package logger

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *zap.Logger

// LogConfig holds configuration for logging. Unlike a standalone service,
// an embedded Engine does not own the process's stdout by default: a host
// application may already be writing its own structured output there, so
// AlsoStdout defaults to false whenever a file OutputPath is configured.
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // file path or empty for stdout
	AlsoStdout bool   // tee to stdout in addition to OutputPath
	// Rotation settings (only applicable when OutputPath is set)
	MaxSizeMB  int  // max size in megabytes before rotation
	MaxBackups int  // max number of old log files to retain
	MaxAgeDays int  // max number of days to retain old log files
	Compress   bool // whether to compress rotated files
}

// DefaultLogConfig returns the default logging configuration: console
// output at info level, matching config.Config's own LogFormat default
// for a library most often run interactively or under a test harness.
// Callers that ship to a log aggregator override Format to "json".
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "console",
		OutputPath: "",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Init initializes the global logger at level, using DefaultLogConfig
// for everything else.
func Init(level string) error {
	config := DefaultLogConfig()
	config.Level = level
	return InitWithConfig(config)
}

// InitWithConfig initializes the global logger with full configuration.
func InitWithConfig(config LogConfig) error {
	var zapLevel zapcore.Level
	switch config.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if config.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	writer, err := buildWriteSyncer(config)
	if err != nil {
		return err
	}

	core := zapcore.NewCore(encoder, writer, zapLevel)
	Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return nil
}

func buildWriteSyncer(config LogConfig) (zapcore.WriteSyncer, error) {
	if config.OutputPath == "" {
		return zapcore.AddSync(os.Stdout), nil
	}

	dir := filepath.Dir(config.OutputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   config.OutputPath,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   config.Compress,
		LocalTime:  true,
	}
	if !config.AlsoStdout {
		return zapcore.AddSync(lj), nil
	}
	return zapcore.NewMultiWriteSyncer(zapcore.AddSync(lj), zapcore.AddSync(os.Stdout)), nil
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log.With(fields...)
}

// WithEngineID creates a child logger tagged with the owning Engine's id,
// so log lines from concurrent Runners across one or more Engines, and
// the engine_id Prometheus label they're emitted alongside, can be
// correlated back to a single run.
func WithEngineID(engineID string) *zap.Logger {
	return With(zap.String("engine_id", engineID))
}

// NewWriterAdapter creates an io.Writer that writes to the logger at
// level, e.g. for bridging a third-party component's log.Logger output.
func NewWriterAdapter(logger *zap.Logger, level zapcore.Level) io.Writer {
	return &writerAdapter{logger: logger, level: level}
}

type writerAdapter struct {
	logger *zap.Logger
	level  zapcore.Level
}

func (w *writerAdapter) Write(p []byte) (n int, err error) {
	msg := string(p)
	switch w.level {
	case zapcore.DebugLevel:
		w.logger.Debug(msg)
	case zapcore.InfoLevel:
		w.logger.Info(msg)
	case zapcore.WarnLevel:
		w.logger.Warn(msg)
	case zapcore.ErrorLevel:
		w.logger.Error(msg)
	case zapcore.DPanicLevel:
		w.logger.DPanic(msg)
	case zapcore.PanicLevel:
		w.logger.Panic(msg)
	case zapcore.FatalLevel:
		w.logger.Fatal(msg)
	case zapcore.InvalidLevel:
		w.logger.Info(msg)
	default:
		w.logger.Info(msg)
	}
	return len(p), nil
}

// Sync flushes any buffered log entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
