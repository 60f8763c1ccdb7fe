package object

import (
	"context"
	"fmt"

	"vault-pipeline/pkg/config"
)

// NewStore 根据配置创建对象存储
func NewStore(ctx context.Context, cfg config.ObjectConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("不支持的对象存储类型: %s", cfg.Type)
	}
}
