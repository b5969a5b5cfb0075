// Package log 封装了基于 zap 的全局日志记录器。
package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 未调用 Init 之前（例如单元测试中）使用空记录器，避免空指针。
var sugar = zap.NewNop().Sugar()

// Options 描述日志初始化参数，与 config.LogConfig 一一对应。
type Options struct {
	Level      string
	Format     string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init 初始化 zap logger
func Init(opts Options) {
	// 根据配置设置日志级别
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		// 开发环境配置
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		// 生产环境配置
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if opts.OutputPath != "" {
		// 同时输出到滚动文件和 stdout
		_ = os.MkdirAll(opts.OutputPath, os.ModePerm)
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opts.OutputPath, "app.log"),
			MaxSize:    withDefault(opts.MaxSizeMB, 10),
			MaxBackups: withDefault(opts.MaxBackups, 3),
			MaxAge:     withDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), logLevel)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	// 将 Logger 转换为 SugaredLogger
	sugar = logger.Sugar()
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Info 记录一条 info 级别的日志
func Info(msg string) {
	sugar.Info(msg)
}

// Infof 使用格式化字符串记录一条 info 级别的日志
func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Infow 使用键值对记录一条 info 级别的结构化日志。
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

// Warnf 使用格式化字符串记录一条 warn 级别的日志
func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

// Error 记录一条 error 级别的日志，并附带 error 信息
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Fatal 记录一条 fatal 级别的日志，并附带 error 信息，然后退出程序
func Fatal(msg string, err error) {
	sugar.Fatalw(msg, "error", err)
}

func Fatalf(template string, args ...interface{}) {
	sugar.Fatalf(template, args...)
}

// Sync 将缓冲区中的任何日志刷新（写入）到底层 Writer。
func Sync() {
	_ = sugar.Sync()
}
