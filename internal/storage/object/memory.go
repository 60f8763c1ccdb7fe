package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	pkgerrors "vault-pipeline/pkg/errors"
)

// MemoryStore 内存对象存储实现；签名 URL 为带过期参数的占位 URL
type MemoryStore struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryStore 创建新的内存对象存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
	}
}

// Put 写入对象；已存在时保持原字节不变
func (s *MemoryStore) Put(ctx context.Context, key string, data io.Reader, size int64, mimeType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		return nil
	}
	s.objects[key] = buf
	return nil
}

// Get 读取对象
func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, exists := s.objects[key]
	if !exists {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "object %s", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return io.NopCloser(bytes.NewReader(cp)), nil
}

// Exists 检查对象是否存在
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.objects[key]
	return exists, nil
}

// SignedUploadURL 返回占位上传 URL（本地开发无外部存储时使用）
func (s *MemoryStore) SignedUploadURL(ctx context.Context, key, mimeType string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://upload/%s?expires=%d", key, time.Now().Add(ttl).Unix()), nil
}

// SignedDownloadURL 返回占位下载 URL
func (s *MemoryStore) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://download/%s?expires=%d", key, time.Now().Add(ttl).Unix()), nil
}

// Close 关闭存储（内存实现为 no-op）
func (s *MemoryStore) Close() error {
	return nil
}
