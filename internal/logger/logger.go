package logger

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"` // MB
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // days
	Compress    bool   `mapstructure:"compress"`
	// Stderr 为 true 时控制台输出写到标准错误，命令行工具用它把日志和结果分开
	Stderr bool `mapstructure:"-"`
}

// NewLogger 创建日志记录器
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Development {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	console := zapcore.AddSync(os.Stdout)
	if cfg.Stderr {
		console = zapcore.AddSync(os.Stderr)
	}

	writeSyncer := console
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}

		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    withDefault(cfg.MaxSize, 100),
			MaxBackups: withDefault(cfg.MaxBackups, 3),
			MaxAge:     withDefault(cfg.MaxAge, 28),
			Compress:   cfg.Compress,
		}
		writeSyncer = zapcore.NewMultiWriteSyncer(zapcore.AddSync(rotating), console)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	if cfg.Development {
		return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
	}
	return zap.New(core, zap.AddCaller()), nil
}

// NewDevelopmentLogger 创建开发环境日志记录器
func NewDevelopmentLogger() *zap.Logger {
	logger, err := NewLogger(Config{Level: "debug", Development: true})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// OrNop 在 log 为 nil 时返回空日志记录器
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Timed 在 debug 级别记录一次调用的名称、参数和耗时。
//
// 用法：defer logger.Timed(log, "lookup_sender", zap.String("sender", s))()
func Timed(log *zap.Logger, name string, fields ...zap.Field) func() {
	if log == nil || !log.Core().Enabled(zapcore.DebugLevel) {
		return func() {}
	}
	start := time.Now()
	return func() {
		all := make([]zap.Field, 0, len(fields)+1)
		all = append(all, fields...)
		all = append(all, zap.Duration("elapsed", time.Since(start)))
		log.Debug(name, all...)
	}
}

func withDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
