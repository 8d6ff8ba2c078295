package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"
)

// Store 负责磁盘对象的读写。磁盘布局：
//
//	<StoragePath>/<Namespace>/<Name>
type Store interface {
	// Get 返回可流式读取的对象，不存在时返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 以临时文件 + rename 原子写入对象，失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Path 返回对象的绝对路径，不检查文件是否存在。
	Path(locator Locator) (string, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
	// Mode 为 0 时使用 0o644。私钥等敏感对象应传入 0o600。
	Mode fs.FileMode
}

// Locator 唯一定位一个对象，Namespace 可包含多级目录（如 certs/example.com）。
type Locator struct {
	Namespace string
	Name      string
}

// Entry 描述磁盘上的对象。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("storage object not found")

// ReadAll 读取完整对象并关闭 Reader。
func ReadAll(ctx context.Context, s Store, locator Locator) ([]byte, error) {
	result, err := s.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()
	return io.ReadAll(result.Reader)
}
