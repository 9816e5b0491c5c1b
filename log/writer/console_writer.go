package writer

import (
	"io"
	"os"
)

// ConsoleWriterOptions 控制台输出配置
type ConsoleWriterOptions struct {
	// 输出目标：stdout, stderr, discard
	Target string `cfg:"target" def:"stdout" validate:"omitempty,oneof=stdout stderr discard"`
}

// ConsoleWriter 控制台输出器
type ConsoleWriter struct {
	writer io.Writer
}

func NewConsoleWriterWithOptions(options *ConsoleWriterOptions) (*ConsoleWriter, error) {
	target := "stdout"
	if options != nil && options.Target != "" {
		target = options.Target
	}

	var w io.Writer
	switch target {
	case "stderr":
		w = os.Stderr
	case "discard":
		w = io.Discard
	default:
		w = os.Stdout
	}

	return &ConsoleWriter{writer: w}, nil
}

func (c *ConsoleWriter) Write(p []byte) (n int, err error) {
	return c.writer.Write(p)
}

// Close 控制台不需要关闭
func (c *ConsoleWriter) Close() error {
	return nil
}
