package writer

import (
	"io"

	"github.com/hatlonely/orm/ref"
)

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

// Namespace 内置输出器在 ref.Registry 中的命名空间
const Namespace = "github.com/hatlonely/orm/log/writer"

// Register 将内置输出器注册到 r
func Register(r *ref.Registry) {
	r.MustRegister(Namespace, "ConsoleWriter", NewConsoleWriterWithOptions)
	r.MustRegister(Namespace, "FileWriter", NewFileWriterWithOptions)
	r.MustRegister(Namespace, "MultiWriter", func(options *MultiWriterOptions) (*MultiWriter, error) {
		return NewMultiWriterWithOptions(options, r)
	})
}

// NewWriterWithOptions 通过 TypeOptions 创建输出器，Namespace 为空时使用内置命名空间
func NewWriterWithOptions(r *ref.Registry, options *ref.TypeOptions) (Writer, error) {
	if options.Namespace == "" {
		options = &ref.TypeOptions{Namespace: Namespace, Type: options.Type, Options: options.Options}
	}
	return ref.NewT[Writer](r, options)
}
