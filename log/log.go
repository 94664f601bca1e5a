package log

import (
	"context"
	"io"
	"log/slog"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

var defaultLogger Logger

func init() {
	l, err := NewSLogWithOptions(&Options{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = l
}

// Default 返回进程级默认日志器，终端 text 格式输出
func Default() Logger {
	return defaultLogger
}

// SetDefault 替换默认日志器，nil 忽略
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// NewNop 返回丢弃所有输出的日志器
func NewNop() Logger {
	return &SLog{slogger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// OrDefault 在 l 为空时返回默认日志器
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}
