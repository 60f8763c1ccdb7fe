package record

import (
	"context"
	"sync"
	"time"

	"vault-pipeline/internal/extraction"
	pkgerrors "vault-pipeline/pkg/errors"
	"vault-pipeline/pkg/redaction"
	"vault-pipeline/pkg/utils"
)

// MemoryStore 内存文档记录存储实现（测试与本地开发）
type MemoryStore struct {
	docs map[string]*Document
	mu   sync.RWMutex
}

// NewMemoryStore 创建新的内存文档记录存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*Document),
	}
}

// Create 创建记录
func (s *MemoryStore) Create(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; exists {
		return pkgerrors.Wrapf(pkgerrors.ErrValidation, "document %s already exists", doc.ID)
	}

	now := time.Now().Unix()
	cp := *doc
	cp.Tags = utils.DedupStrings(doc.Tags)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.docs[doc.ID] = &cp
	return nil
}

// clone 深拷贝快照：Tags、RedactionsByType、ExtractedEvents 不与库内共享底层存储
func clone(doc *Document) *Document {
	cp := *doc
	if doc.Tags != nil {
		cp.Tags = make([]string, len(doc.Tags))
		copy(cp.Tags, doc.Tags)
	}
	if doc.RedactionsByType != nil {
		cp.RedactionsByType = make(map[redaction.Category]int, len(doc.RedactionsByType))
		for k, v := range doc.RedactionsByType {
			cp.RedactionsByType[k] = v
		}
	}
	if doc.ExtractedEvents != nil {
		cp.ExtractedEvents = make([]extraction.Event, len(doc.ExtractedEvents))
		copy(cp.ExtractedEvents, doc.ExtractedEvents)
	}
	return &cp
}

// Get 按 ID 获取
func (s *MemoryStore) Get(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
	}
	return clone(doc), nil
}

// GetOwned 按属主获取；非属主与不存在同样返回 ErrNotFound
func (s *MemoryStore) GetOwned(ctx context.Context, ownerID, id string) (*Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
	}
	return doc, nil
}

// TransitionStatus CAS 状态迁移
func (s *MemoryStore) TransitionStatus(ctx context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[id]
	if !exists {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
	}
	if doc.Status != from {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "document %s is %s, expected %s", id, doc.Status, from)
	}
	doc.Status = to
	if from == StatusFailed {
		doc.ProcessingError = ""
		doc.JobID = ""
	}
	doc.UpdatedAt = time.Now().Unix()
	return nil
}

// AttachJob 入队门闸：PENDING 且无 JobID 时才接受
func (s *MemoryStore) AttachJob(ctx context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[id]
	if !exists {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
	}
	if doc.Status != StatusPending || doc.JobID != "" {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "document %s already has job %s", id, doc.JobID)
	}
	doc.JobID = jobID
	doc.UpdatedAt = time.Now().Unix()
	return nil
}

// DetachJob 回滚门闸：仅当记录仍持有同一 jobID 且状态为 PENDING 时清除
func (s *MemoryStore) DetachJob(ctx context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[id]
	if !exists {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
	}
	if doc.Status != StatusPending || doc.JobID != jobID {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "document %s is %s with job %q", id, doc.Status, doc.JobID)
	}
	doc.JobID = ""
	doc.UpdatedAt = time.Now().Unix()
	return nil
}

// SetResults 写入全部产物并置 READY
func (s *MemoryStore) SetResults(ctx context.Context, id string, res Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[id]
	if !exists {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
	}
	if doc.Status != StatusProcessing {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "document %s is %s, expected %s", id, doc.Status, StatusProcessing)
	}
	doc.Checksum = res.Checksum
	doc.ExtractedText = res.ExtractedText
	doc.ExtractedEvents = nil
	if res.ExtractedEvents != nil {
		doc.ExtractedEvents = make([]extraction.Event, len(res.ExtractedEvents))
		copy(doc.ExtractedEvents, res.ExtractedEvents)
	}
	doc.RedactionCount = res.Redactions.Count
	doc.RedactionsByType = nil
	if res.Redactions.ByCategory != nil {
		doc.RedactionsByType = make(map[redaction.Category]int, len(res.Redactions.ByCategory))
		for k, v := range res.Redactions.ByCategory {
			doc.RedactionsByType[k] = v
		}
	}
	doc.PIIRedacted = true
	doc.ProcessingError = ""
	doc.Status = StatusReady
	doc.UpdatedAt = time.Now().Unix()
	return nil
}

// SetFailed 置 FAILED 并记录错误
func (s *MemoryStore) SetFailed(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[id]
	if !exists {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
	}
	if doc.Status != StatusProcessing {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "document %s is %s, expected %s", id, doc.Status, StatusProcessing)
	}
	doc.Status = StatusFailed
	doc.ProcessingError = errMsg
	doc.PIIRedacted = false
	doc.UpdatedAt = time.Now().Unix()
	return nil
}

// Close 关闭存储（内存实现为 no-op）
func (s *MemoryStore) Close() error {
	return nil
}
