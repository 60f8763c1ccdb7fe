package record

import (
	"context"
	"fmt"

	"vault-pipeline/internal/extraction"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/redaction"
)

// Status 文档生命周期状态
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusFailed     Status = "FAILED"
)

// Document 文档记录：一条对应一个已上传文件
type Document struct {
	ID               string                     `json:"id"`
	OwnerID          string                     `json:"owner_id"`
	Name             string                     `json:"name"`
	StorageKey       string                     `json:"storage_key"`
	Size             int64                      `json:"size"`
	MimeType         string                     `json:"mime_type"`
	Checksum         string                     `json:"checksum"` // Worker 计算，不信任上传方
	Tags             []string                   `json:"tags"`     // 去重集合
	Status           Status                     `json:"status"`
	JobID            string                     `json:"job_id,omitempty"` // 当前排队/处理中 Job；入队门闸用
	ProcessingError  string                     `json:"processing_error,omitempty"` // 仅 FAILED 时非空
	PIIRedacted      bool                       `json:"pii_redacted"`
	RedactionCount   int                        `json:"redaction_count"`
	RedactionsByType map[redaction.Category]int `json:"redactions_by_type,omitempty"`
	ExtractedText    string                     `json:"extracted_text,omitempty"` // 仅 READY 时非空
	ExtractedEvents  []extraction.Event         `json:"extracted_events,omitempty"`
	CreatedAt        int64                      `json:"created_at"`
	UpdatedAt        int64                      `json:"updated_at"`
}

// Results 一次处理成功的全部产物；部分结果不落库
type Results struct {
	Checksum        string
	ExtractedText   string
	ExtractedEvents []extraction.Event
	Redactions      redaction.Map
}

// Store 文档记录存储接口。状态迁移一律 compare-and-set：
// 当前状态与 from 不符时返回 pkg/errors.ErrInvalidState，避免并发 Worker 丢更新
type Store interface {
	// Create 创建记录（Ingress 在 upload-intent 时调用，状态 PENDING）
	Create(ctx context.Context, doc *Document) error
	// Get 按 ID 获取（Worker 路径，不做属主过滤）
	Get(ctx context.Context, id string) (*Document, error)
	// GetOwned 按属主获取；不存在或非属主一律 ErrNotFound
	GetOwned(ctx context.Context, ownerID, id string) (*Document, error)
	// TransitionStatus CAS 状态迁移；离开 FAILED 时一并清空 ProcessingError 与 JobID
	TransitionStatus(ctx context.Context, id string, from, to Status) error
	// AttachJob 单文档单 Job 门闸：仅当状态为 PENDING 且尚无 JobID 时记录 jobID，
	// 否则 ErrInvalidState（重复 CompleteUpload 由此短路）
	AttachJob(ctx context.Context, id, jobID string) error
	// DetachJob 门闸回滚：入队失败时清除占坑；仅当状态为 PENDING 且 JobID 与
	// jobID 相同时生效，否则 ErrInvalidState
	DetachJob(ctx context.Context, id, jobID string) error
	// SetResults 仅当前状态为 PROCESSING 时写入全部产物并置 READY + piiRedacted
	SetResults(ctx context.Context, id string, res Results) error
	// SetFailed 仅当前状态为 PROCESSING 时置 FAILED 并记录可读错误
	SetFailed(ctx context.Context, id string, errMsg string) error
	// Close 关闭存储连接
	Close() error
}

// NewStore 根据配置创建文档记录存储
func NewStore(ctx context.Context, cfg config.RecordConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, cfg.PoolSize)
	default:
		return nil, fmt.Errorf("不支持的记录存储类型: %s", cfg.Type)
	}
}
