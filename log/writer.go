package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

// OutputOptions 输出目标配置
type OutputOptions struct {
	// 输出类型：console, file
	Type string `cfg:"type" def:"console" validate:"omitempty,oneof=console file"`

	// console 输出目标：stdout, stderr
	Target string `cfg:"target" def:"stdout"`

	// file 输出路径
	Path string `cfg:"path"`
}

// NewWriterWithOptions 根据输出类型创建输出器
func NewWriterWithOptions(options *OutputOptions) (Writer, error) {
	if options == nil {
		options = &OutputOptions{}
	}
	switch options.Type {
	case "", "console":
		return NewConsoleWriter(options.Target), nil
	case "file":
		return NewFileWriter(options.Path)
	default:
		return nil, errors.Errorf("unsupported output type: %s", options.Type)
	}
}

// ConsoleWriter 控制台输出器
type ConsoleWriter struct {
	w io.Writer
}

func NewConsoleWriter(target string) *ConsoleWriter {
	if target == "stderr" {
		return &ConsoleWriter{w: os.Stderr}
	}
	return &ConsoleWriter{w: os.Stdout}
}

func (c *ConsoleWriter) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *ConsoleWriter) Close() error {
	return nil
}

// FileWriter 文件输出器，追加写入
type FileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func NewFileWriter(path string) (*FileWriter, error) {
	if path == "" {
		return nil, errors.New("file path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %s", path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", path)
	}

	return &FileWriter{path: path, file: file}, nil
}

func (f *FileWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, errors.New("file is closed")
	}
	return f.file.Write(p)
}

func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
