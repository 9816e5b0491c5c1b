package log

import (
	"io"
	"os"
	"sync"

	"github.com/hatlonely/orm/log/logger"
)

// Options 日志配置
type Options = logger.SLogOptions

var (
	mu            sync.RWMutex
	defaultLogger logger.Logger
)

func init() {
	l, err := logger.NewSLogWithWriter(&logger.SLogOptions{Level: "info", Format: "text"}, os.Stderr)
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = l
}

// NewLogWithOptions 根据配置创建日志器
func NewLogWithOptions(options *Options) (logger.Logger, error) {
	return logger.NewSLogWithOptions(options)
}

// Default 返回默认日志器，text 格式输出到 stderr
func Default() logger.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetDefault 替换默认日志器
func SetDefault(l logger.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Discard 丢弃所有输出的日志器
func Discard() logger.Logger {
	l, _ := logger.NewSLogWithWriter(&logger.SLogOptions{Level: "error"}, io.Discard)
	return l
}
