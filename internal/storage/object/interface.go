package object

import (
	"context"
	"io"
	"time"
)

// Store 对象存储接口：原始上传件的存取与签名 URL 签发。
// 管线只读原始对象，从不覆写（原始字节不可变）
type Store interface {
	// Put 写入对象；已存在时为 no-op（上传幂等）
	Put(ctx context.Context, key string, data io.Reader, size int64, mimeType string) error
	// Get 读取对象
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
	// SignedUploadURL 签发限时上传 URL（客户端直传）
	SignedUploadURL(ctx context.Context, key, mimeType string, ttl time.Duration) (string, error)
	// SignedDownloadURL 签发限时下载 URL
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Close 关闭存储连接
	Close() error
}
