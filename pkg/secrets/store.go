// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"strings"
)

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error
}

// Config Secret Store 配置
type Config struct {
	Provider string // vault | env | memory
	Address  string // vault 地址
	Token    string // vault token
	Prefix   string // secret 路径前缀
}

// NewStore 创建 Secret Store
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.Address,
			Token:      config.Token,
			PathPrefix: config.Prefix,
		})
	case "env":
		return NewEnvStore(), nil
	default:
		return NewMemoryStore(), nil
	}
}

// Resolve 解析带前缀的引用并返回明文：
// "env:KEY" 读环境变量，"vault:path" 读 Vault，其余原样返回
func Resolve(ctx context.Context, store Store, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		return NewEnvStore().Get(ctx, strings.TrimPrefix(ref, "env:"))
	case strings.HasPrefix(ref, "vault:"):
		if store == nil {
			return "", ErrNoStore
		}
		return store.Get(ctx, strings.TrimPrefix(ref, "vault:"))
	default:
		return ref, nil
	}
}
