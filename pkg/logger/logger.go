package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger

	mu        sync.Mutex
	runID     = uuid.NewString()
	fileOut   io.Writer
	consoleOn = true
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
}

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     true,
	}
}

// Init 初始化日志系统：控制台 + 可选的轮转文件
// 同时设置全局 logrus，各包用 logrus.WithField("component", ...) 创建的 logger 也写入同一输出
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	fileOut = nil
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		fileOut = &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter())
	Logger = l

	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())
	applyOutputLocked()
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
	})
}

// SetConsole 开关控制台输出（TUI 运行时关闭，避免日志打乱画面）
func SetConsole(on bool) {
	mu.Lock()
	defer mu.Unlock()
	consoleOn = on
	applyOutputLocked()
}

func applyOutputLocked() {
	var writers []io.Writer
	if consoleOn {
		writers = append(writers, os.Stdout)
	}
	if fileOut != nil {
		writers = append(writers, fileOut)
	}
	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}
	if Logger != nil {
		Logger.SetOutput(out)
	}
	logrus.SetOutput(out)
}

// RunID 本进程的运行 id
func RunID() string {
	return runID
}

// WithRun 带运行 id 的日志上下文
func WithRun() *logrus.Entry {
	return WithField("run", runID)
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}
