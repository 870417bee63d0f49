package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const timeLayout = "15:04:05 MST 2006/01/02"

// 外键错误前的时间戳，和 SHOW ENGINE INNODB STATUS 一致
const foreignKeyTimeLayout = "2006-01-02 15:04:05"

var (
	// Logger 调试和警告
	Logger *logrus.Logger
	// InfoLogger 对应 log_infos
	InfoLogger *logrus.Logger
	// ErrorLogger 对应 log_error
	ErrorLogger *logrus.Logger
	// ForeignKeyLogger LATEST FOREIGN KEY ERROR
	ForeignKeyLogger *logrus.Logger
)

// LogConfig 日志配置
type LogConfig struct {
	ErrorLogPath      string
	InfoLogPath       string
	ForeignKeyLogPath string
	LogLevel          string
	// Output 非空时所有日志都写到这里
	Output io.Writer
}

// CustomFormatter 输出 [时间] [级别] (文件:函数:行) 消息
type CustomFormatter struct {
	TimestampFormat string
}

// Format 实现 logrus.Formatter 接口
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	layout := timeLayout
	if f.TimestampFormat != "" {
		layout = f.TimestampFormat
	}
	tag := strings.ToUpper(entry.Level.String())
	if len(tag) > 4 {
		tag = tag[:4]
	}

	var b strings.Builder
	b.Grow(len(entry.Message) + 64)
	b.WriteByte('[')
	b.WriteString(entry.Time.Format(layout))
	b.WriteString("] [")
	b.WriteString(tag)
	b.WriteString("] (")
	b.WriteString(callSite())
	b.WriteString(") ")
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// 调用栈里属于日志框架的文件
var framePackages = []string{"sirupsen", "/logger.go", "/entry.go"}

func isLoggingFrame(file string) bool {
	for _, p := range framePackages {
		if strings.Contains(file, p) {
			return true
		}
	}
	return false
}

// callSite 第一个不属于日志框架的栈帧
func callSite() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.File != "" && !isLoggingFrame(frame.File) {
			return fmt.Sprintf("%s:%s:%d", filepath.Base(frame.File), frame.Function, frame.Line)
		}
		if !more {
			return "unknown:unknown:0"
		}
	}
}

var levelNames = map[string]logrus.Level{
	"debug":   logrus.DebugLevel,
	"info":    logrus.InfoLevel,
	"warn":    logrus.WarnLevel,
	"warning": logrus.WarnLevel,
	"error":   logrus.ErrorLevel,
	"fatal":   logrus.FatalLevel,
	"panic":   logrus.PanicLevel,
}

// parseLogLevel 不认识的级别按 info 处理
func parseLogLevel(level string) logrus.Level {
	if lv, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return lv
	}
	return logrus.InfoLevel
}

// channel 一路日志：控制台输出加可选的日志文件
type channel struct {
	path    string
	console io.Writer
}

func (c channel) build(config LogConfig, level logrus.Level) *logrus.Logger {
	l := &logrus.Logger{
		Out:       c.console,
		Formatter: &CustomFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	if config.Output != nil {
		l.Out = config.Output
		return l
	}
	if c.path == "" {
		return l
	}
	f, err := appendFile(c.path)
	if err != nil {
		l.Warnf("Cannot open log file %s, writing to console only: %v", c.path, err)
		return l
	}
	l.Out = io.MultiWriter(c.console, f)
	return l
}

// InitLogger 按配置建立各路日志
func InitLogger(config LogConfig) error {
	level := parseLogLevel(config.LogLevel)

	// 没有单独的外键错误日志时写到错误日志里
	fkPath := config.ForeignKeyLogPath
	if fkPath == "" {
		fkPath = config.ErrorLogPath
	}

	InfoLogger = channel{path: config.InfoLogPath, console: os.Stdout}.build(config, level)
	ErrorLogger = channel{path: config.ErrorLogPath, console: os.Stderr}.build(config, level)
	ForeignKeyLogger = channel{path: fkPath, console: os.Stderr}.build(config, level)

	// 调试日志和信息日志共用输出
	Logger = &logrus.Logger{
		Out:       InfoLogger.Out,
		Formatter: InfoLogger.Formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	return nil
}

// SetExitFunc 替换 Fatalf 使用的退出函数
func SetExitFunc(fn func(int)) {
	for _, l := range []*logrus.Logger{Logger, InfoLogger, ErrorLogger, ForeignKeyLogger} {
		if l != nil {
			l.ExitFunc = fn
		}
	}
}

func appendFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// Info 写信息日志
func Info(args ...interface{}) {
	if l := InfoLogger; l != nil {
		l.Info(args...)
	}
}

// Infof 写信息日志
func Infof(format string, args ...interface{}) {
	if l := InfoLogger; l != nil {
		l.Infof(format, args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if l := Logger; l != nil {
		l.Debugf(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if l := Logger; l != nil {
		l.Warnf(format, args...)
	}
}

// Error 写错误日志
func Error(args ...interface{}) {
	if l := ErrorLogger; l != nil {
		l.Error(args...)
	}
}

// Errorf 写错误日志
func Errorf(format string, args ...interface{}) {
	if l := ErrorLogger; l != nil {
		l.Errorf(format, args...)
	}
}

// Fatalf 写错误日志后退出。日志未初始化时直接写 stderr
func Fatalf(format string, args ...interface{}) {
	if l := ErrorLogger; l != nil {
		l.Fatalf(format, args...)
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// ForeignKeyError 记录一条外键约束错误
func ForeignKeyError(tableName string, body string) {
	l := ForeignKeyLogger
	if l == nil {
		return
	}
	l.Errorf("%s Error in foreign key constraint of table %s:\n%s",
		time.Now().Format(foreignKeyTimeLayout), tableName, body)
}
