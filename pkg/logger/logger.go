package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// logMu 保护 currentLogFile
	logMu          sync.Mutex
	currentLogFile string
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	Format     string // text（默认）或 json
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	NoColor    bool   // 关闭终端颜色（NO_COLOR 环境变量同样生效）
}

// Init 初始化全局 logrus；各组件通过 logrus.WithField("component", ...) 获取 entry
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	currentLogFile = ""
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    orDefault(config.MaxSize, 100),
			MaxBackups: orDefault(config.MaxBackups, 3),
			MaxAge:     orDefault(config.MaxAge, 7),
			Compress:   config.Compress,
		})
		currentLogFile = config.OutputFile
	}

	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter(config))
	return nil
}

// InitDefault 只输出到控制台
func InitDefault() error {
	return Init(Config{Level: "info"})
}

func formatter(config Config) logrus.Formatter {
	if config.Format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	// 写文件时颜色码会污染日志
	colors := !config.NoColor && !noColor && config.OutputFile == ""
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     colors,
		DisableColors:   !colors,
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	logrus.Info(args...)
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
