package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[Level]string{
	DEBUG: "\033[36m", // cyan
	INFO:  "\033[32m", // green
	WARN:  "\033[33m", // yellow
	ERROR: "\033[31m", // red
}

const resetColor = "\033[0m"

// Logger 日志记录器
type Logger struct {
	module string
}

// 全局输出配置，所有模块共享
var (
	mu          sync.Mutex
	globalLevel Level     = INFO
	output      io.Writer = os.Stderr
	colored     bool      = true
)

// SetGlobalLevel 设置全局日志级别
func SetGlobalLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
}

// SetOutput 设置日志输出目标
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// SetColor 开关彩色输出
func SetColor(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	colored = enabled
}

// ParseLevel 解析配置中的级别名称，未知值回退到 INFO
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// New 创建新的日志记录器
func New(module string) *Logger {
	return &Logger{module: module}
}

// log 内部日志方法
func (l *Logger) log(level Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if level < globalLevel {
		return
	}

	timestamp := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	levelName := levelNames[level]

	if !colored {
		fmt.Fprintf(output, "%s [%s] %s: %s\n", levelName, timestamp, l.module, msg)
		return
	}
	fmt.Fprintf(output, "%s%s%s [%s] %s: %s\n",
		levelColors[level], levelName, resetColor,
		timestamp, l.module, msg)
}

// Debug 调试日志
func (l *Logger) Debug(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

// Info 信息日志
func (l *Logger) Info(format string, args ...any) {
	l.log(INFO, format, args...)
}

// Warn 警告日志
func (l *Logger) Warn(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Error 错误日志
func (l *Logger) Error(format string, args ...any) {
	l.log(ERROR, format, args...)
}

// WithError 带错误的日志
func (l *Logger) WithError(err error) *Logger {
	if err != nil {
		l.Error("error: %v", err)
	}
	return l
}
