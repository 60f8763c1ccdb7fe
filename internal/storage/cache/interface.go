package cache

import (
	"context"
	"time"
)

// Store 缓存接口（队列统计的短 TTL 缓存；健康探测不走缓存）
type Store interface {
	// Get 读取；未命中或已过期时 ok 为 false
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set 写入并设置 TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Close 关闭缓存连接
	Close() error
}
