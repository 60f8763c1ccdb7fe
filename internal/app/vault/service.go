// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vault 入库门面：上传意向、上传完成入队、状态查询与重处理。
// HTTP 层仅依赖本包接口，不直接触碰存储与队列
package vault

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/health"
	"vault-pipeline/internal/storage/object"
	"vault-pipeline/internal/storage/record"
	"vault-pipeline/pkg/config"
	pkgerrors "vault-pipeline/pkg/errors"
	"vault-pipeline/pkg/log"
	"vault-pipeline/pkg/metrics"
	"vault-pipeline/pkg/redaction"
	"vault-pipeline/pkg/utils"
)

const (
	defaultMaxUploadBytes = 50 << 20 // 50MB
	defaultUploadURLTTL   = 15 * time.Minute
)

// defaultAllowedMime 内置 mime 白名单
var defaultAllowedMime = []string{
	"text/plain",
	"text/markdown",
	"text/csv",
	"application/pdf",
}

// UploadIntent 上传意向响应：客户端凭 UploadURL 直传对象存储
type UploadIntent struct {
	DocumentID string `json:"document_id"`
	UploadURL  string `json:"upload_url"`
	UploadKey  string `json:"upload_key"`
}

// CompleteResult 上传完成响应
type CompleteResult struct {
	JobID  string        `json:"job_id,omitempty"`
	Status record.Status `json:"status"`
}

// StatusInfo 状态查询 DTO
type StatusInfo struct {
	DocumentID       string                     `json:"document_id"`
	Name             string                     `json:"name"`
	Status           record.Status              `json:"status"`
	ProcessingError  string                     `json:"processing_error,omitempty"`
	PIIRedacted      bool                       `json:"pii_redacted"`
	Tags             []string                   `json:"tags"`
	RedactionCount   int                        `json:"redaction_count"`
	RedactionsByType map[redaction.Category]int `json:"redactions_by_type,omitempty"`
	CreatedAt        int64                      `json:"created_at"`
	UpdatedAt        int64                      `json:"updated_at"`
}

// QueueStatsResult 队列健康与统计；Stats 仅对管理员可见
type QueueStatsResult struct {
	Health health.Health  `json:"health"`
	Stats  *health.Report `json:"stats,omitempty"`
}

// Service 入库服务接口
type Service interface {
	RequestUpload(ctx context.Context, ownerID, fileName string, size int64, mimeType string, tags []string) (*UploadIntent, error)
	CompleteUpload(ctx context.Context, ownerID, documentID string) (*CompleteResult, error)
	GetStatus(ctx context.Context, ownerID, documentID string) (*StatusInfo, error)
	Reprocess(ctx context.Context, ownerID, documentID string) (*CompleteResult, error)
	GetQueueStats(ctx context.Context, privileged bool) (*QueueStatsResult, error)
}

// service Service 实现
type service struct {
	records  record.Store
	objects  object.Store
	queue    docqueue.Queue
	reporter *health.Reporter

	maxUploadBytes int64
	allowedMime    map[string]bool
	uploadURLTTL   time.Duration
	logger         *log.Logger
}

// NewService 装配入库服务
func NewService(
	records record.Store,
	objects object.Store,
	queue docqueue.Queue,
	reporter *health.Reporter,
	uploadCfg config.UploadConfig,
	objectCfg config.ObjectConfig,
	logger *log.Logger,
) Service {
	allowed := uploadCfg.AllowedMimeTypes
	if len(allowed) == 0 {
		allowed = defaultAllowedMime
	}
	mimeSet := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		mimeSet[strings.ToLower(m)] = true
	}
	maxBytes := uploadCfg.MaxSizeBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return &service{
		records:        records,
		objects:        objects,
		queue:          queue,
		reporter:       reporter,
		maxUploadBytes: maxBytes,
		allowedMime:    mimeSet,
		uploadURLTTL:   utils.ParseDurationDefault(objectCfg.SignedURLTTL, defaultUploadURLTTL),
		logger:         logger,
	}
}

// RequestUpload 校验通过后才创建记录：校验失败不留任何痕迹
func (s *service) RequestUpload(ctx context.Context, ownerID, fileName string, size int64, mimeType string, tags []string) (*UploadIntent, error) {
	if ownerID == "" {
		return nil, pkgerrors.Wrap(pkgerrors.ErrUnauthorized, "missing owner")
	}
	if fileName == "" {
		return nil, pkgerrors.Wrap(pkgerrors.ErrValidation, "file name is required")
	}
	if size <= 0 {
		return nil, pkgerrors.Wrap(pkgerrors.ErrValidation, "size must be positive")
	}
	if size > s.maxUploadBytes {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrValidation, "size %d exceeds limit %d", size, s.maxUploadBytes)
	}
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if !s.allowedMime[mime] {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrValidation, "unsupported mime type %s", mimeType)
	}

	docID := uuid.New().String()
	storageKey := ownerID + "/" + docID
	uploadURL, err := s.objects.SignedUploadURL(ctx, storageKey, mime, s.uploadURLTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "sign upload url: "+err.Error())
	}

	doc := &record.Document{
		ID:         docID,
		OwnerID:    ownerID,
		Name:       fileName,
		StorageKey: storageKey,
		Size:       size,
		MimeType:   mime,
		Tags:       tags,
		Status:     record.StatusPending,
	}
	if err := s.records.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("上传意向已登记", "document_id", docID, "owner_id", ownerID, "size", size, "mime", mime)
	return &UploadIntent{DocumentID: docID, UploadURL: uploadURL, UploadKey: storageKey}, nil
}

// CompleteUpload 幂等入队：已有 Job 或非 PENDING 时返回现状，不重复入队
func (s *service) CompleteUpload(ctx context.Context, ownerID, documentID string) (*CompleteResult, error) {
	doc, err := s.records.GetOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != record.StatusPending || doc.JobID != "" {
		metrics.EnqueueTotal.WithLabelValues("duplicate").Inc()
		return &CompleteResult{JobID: doc.JobID, Status: doc.Status}, nil
	}

	exists, err := s.objects.Exists(ctx, doc.StorageKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "object lookup: "+err.Error())
	}
	if !exists {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrValidation, "no uploaded object for document %s", documentID)
	}

	// 先占坑后入队：AttachJob 的 CAS 保证并发完成调用只有一个能入队
	jobID := uuid.New().String()
	if err := s.records.AttachJob(ctx, doc.ID, jobID); err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidState) {
			current, gerr := s.records.GetOwned(ctx, ownerID, documentID)
			if gerr != nil {
				return nil, gerr
			}
			metrics.EnqueueTotal.WithLabelValues("duplicate").Inc()
			return &CompleteResult{JobID: current.JobID, Status: current.Status}, nil
		}
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, jobID, docqueue.Payload{
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		StorageKey: doc.StorageKey,
		FileName:   doc.Name,
		MimeType:   doc.MimeType,
		Size:       doc.Size,
	}); err != nil {
		// 入队失败时释放门闸，让调用方可以重试
		if derr := s.records.DetachJob(ctx, doc.ID, jobID); derr != nil {
			s.logger.Error("入队失败后释放门闸失败", "document_id", doc.ID, "job_id", jobID, "error", derr)
		}
		metrics.EnqueueTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.EnqueueTotal.WithLabelValues("ok").Inc()
	s.logger.Info("文档已入队", "document_id", doc.ID, "job_id", jobID)
	return &CompleteResult{JobID: jobID, Status: doc.Status}, nil
}

// GetStatus 属主视角的状态查询
func (s *service) GetStatus(ctx context.Context, ownerID, documentID string) (*StatusInfo, error) {
	doc, err := s.records.GetOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		DocumentID:       doc.ID,
		Name:             doc.Name,
		Status:           doc.Status,
		ProcessingError:  doc.ProcessingError,
		PIIRedacted:      doc.PIIRedacted,
		Tags:             doc.Tags,
		RedactionCount:   doc.RedactionCount,
		RedactionsByType: doc.RedactionsByType,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}, nil
}

// Reprocess 仅 FAILED 可重处理：清错误、回 PENDING、按最新记录快照入队
func (s *service) Reprocess(ctx context.Context, ownerID, documentID string) (*CompleteResult, error) {
	doc, err := s.records.GetOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != record.StatusFailed {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "document %s is %s, reprocess requires FAILED", documentID, doc.Status)
	}

	if err := s.records.TransitionStatus(ctx, doc.ID, record.StatusFailed, record.StatusPending); err != nil {
		return nil, err
	}

	// 大小/类型/路径可能已变化，重新读快照而非复用旧 payload
	fresh, err := s.records.GetOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	jobID := uuid.New().String()
	if err := s.records.AttachJob(ctx, fresh.ID, jobID); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, jobID, docqueue.Payload{
		DocumentID: fresh.ID,
		OwnerID:    fresh.OwnerID,
		StorageKey: fresh.StorageKey,
		FileName:   fresh.Name,
		MimeType:   fresh.MimeType,
		Size:       fresh.Size,
	}); err != nil {
		if derr := s.records.DetachJob(ctx, fresh.ID, jobID); derr != nil {
			s.logger.Error("入队失败后释放门闸失败", "document_id", fresh.ID, "job_id", jobID, "error", derr)
		}
		metrics.EnqueueTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.EnqueueTotal.WithLabelValues("ok").Inc()
	metrics.DocumentTotal.WithLabelValues("retried").Inc()
	s.logger.Info("文档重处理已入队", "document_id", fresh.ID, "job_id", jobID)
	return &CompleteResult{JobID: jobID, Status: record.StatusPending}, nil
}

// GetQueueStats 所有调用方可见健康；统计块仅管理员
func (s *service) GetQueueStats(ctx context.Context, privileged bool) (*QueueStatsResult, error) {
	result := &QueueStatsResult{Health: s.reporter.CheckHealth(ctx)}
	if privileged {
		report := s.reporter.GetStats(ctx)
		result.Stats = &report
		for name, qs := range report.Queues {
			if qs.Error != "" {
				continue
			}
			metrics.QueueDepth.WithLabelValues(name, "waiting").Set(float64(qs.Stats.Waiting))
			metrics.QueueDepth.WithLabelValues(name, "active").Set(float64(qs.Stats.Active))
			metrics.QueueDepth.WithLabelValues(name, "completed").Set(float64(qs.Stats.Completed))
			metrics.QueueDepth.WithLabelValues(name, "failed").Set(float64(qs.Stats.Failed))
			metrics.QueueDepth.WithLabelValues(name, "delayed").Set(float64(qs.Stats.Delayed))
		}
	}
	return result, nil
}
