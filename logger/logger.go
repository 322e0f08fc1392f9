// Package logger 日志：通用活动日志与独立错误日志
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"inferserve/config"
)

// Logger 通用日志（控制台+serve.log）与错误日志（serve.error）
type Logger struct {
	*zap.Logger
	errors  *zap.Logger
	closers []*lumberjack.Logger
}

// New 根据配置创建日志器，日志目录不存在时自动创建
func New(cfg config.LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	general := rotating(cfg, cfg.FilePath())
	errorFile := rotating(cfg, cfg.ErrorFilePath())

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(fileEncoder, zapcore.AddSync(general), level),
	}
	if cfg.Console {
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig())
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level))
	}
	errorCore := zapcore.NewCore(fileEncoder, zapcore.AddSync(errorFile), zapcore.ErrorLevel)

	l := NewWithCores(zapcore.NewTee(cores...), errorCore)
	l.closers = []*lumberjack.Logger{general, errorFile}
	return l, nil
}

// NewWithCores 由给定core构建日志器（测试使用）
func NewWithCores(general, errs zapcore.Core) *Logger {
	return &Logger{
		Logger: zap.New(general),
		errors: zap.New(errs),
	}
}

// Nop 丢弃所有输出
func Nop() *Logger {
	return NewWithCores(zapcore.NewNopCore(), zapcore.NewNopCore())
}

// ErrorSink 错误专用日志
func (l *Logger) ErrorSink() *zap.Logger {
	return l.errors
}

// Close 刷新并关闭日志文件
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	_ = l.errors.Sync()
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func rotating(cfg config.LogConfig, path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Clean(path),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.TimeKey = "time"
	return ec
}
