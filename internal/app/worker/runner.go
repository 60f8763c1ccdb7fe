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

package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/extraction"
	"vault-pipeline/internal/storage/object"
	"vault-pipeline/internal/storage/record"
	pkgerrors "vault-pipeline/pkg/errors"
	"vault-pipeline/pkg/log"
	"vault-pipeline/pkg/metrics"
	"vault-pipeline/pkg/redaction"
	"vault-pipeline/pkg/tracing"
)

// Runner 处理循环：认领 Job → CAS 置 PROCESSING → 取原始字节 → 提取 → 脱敏 → 落结果 → Ack。
// 阶段失败交给队列裁决重试；仅终态失败才把文档置 FAILED
type Runner struct {
	workerID    string
	queue       docqueue.Queue
	records     record.Store
	objects     object.Store
	extractor   extraction.Engine
	redactor    *redaction.Engine
	concurrency int
	limiter     chan struct{} // 信号量，限制同时处理的 Job 数
	logger      *log.Logger
	wg          sync.WaitGroup
}

// NewRunner 创建处理循环；concurrency <=0 时默认 1
func NewRunner(
	workerID string,
	queue docqueue.Queue,
	records record.Store,
	objects object.Store,
	extractor extraction.Engine,
	redactor *redaction.Engine,
	concurrency int,
	logger *log.Logger,
) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		workerID:    workerID,
		queue:       queue,
		records:     records,
		objects:     objects,
		extractor:   extractor,
		redactor:    redactor,
		concurrency: concurrency,
		limiter:     make(chan struct{}, concurrency),
		logger:      logger,
	}
}

// DefaultWorkerID 以 hostname+pid 生成 Worker 标识
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run 消费循环，阻塞直到 ctx 取消；已认领的 Job 处理完才返回
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("worker 消费循环启动", "worker_id", r.workerID, "concurrency", r.concurrency)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return nil
		case r.limiter <- struct{}{}:
		}

		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			<-r.limiter
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.wg.Wait()
				return nil
			}
			r.logger.Error("认领任务失败", "error", err)
			select {
			case <-ctx.Done():
				r.wg.Wait()
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		r.wg.Add(1)
		go func(job *docqueue.Job) {
			defer r.wg.Done()
			defer func() { <-r.limiter }()
			r.handle(ctx, job)
		}(job)
	}
}

// handle 处理单个 Job
func (r *Runner) handle(ctx context.Context, job *docqueue.Job) {
	metrics.WorkerBusy.WithLabelValues(r.workerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(r.workerID).Dec()

	docID := job.Payload.DocumentID
	logger := r.logger.With("worker_id", r.workerID, "job_id", job.ID, "document_id", docID)

	ctx, span := tracing.StartJobSpan(ctx, job.ID, docID)
	defer span.End()

	// 重复入队防线：抢不到 PENDING 时区分本 Job 的重试（文档停在 PROCESSING）与真正的重复
	if err := r.records.TransitionStatus(ctx, docID, record.StatusPending, record.StatusProcessing); err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidState) {
			doc, gerr := r.records.Get(ctx, docID)
			if gerr != nil || doc.Status != record.StatusProcessing || doc.JobID != job.ID {
				logger.Warn("跳过重复任务", "error", err)
				if ackErr := r.queue.Ack(ctx, job.ID); ackErr != nil {
					logger.Error("重复任务 Ack 失败", "error", ackErr)
				}
				return
			}
			// 本 Job 的退避重试，继续处理
		} else if errors.Is(err, pkgerrors.ErrNotFound) {
			logger.Warn("任务指向的文档不存在", "error", err)
			if ackErr := r.queue.Ack(ctx, job.ID); ackErr != nil {
				logger.Error("孤儿任务 Ack 失败", "error", ackErr)
			}
			return
		} else {
			logger.Error("置 PROCESSING 失败", "error", err)
			r.failJob(ctx, job, logger, &pkgerrors.ProcessingError{Stage: "claim", Err: err})
			return
		}
	}

	results, perr := r.process(ctx, job, logger)
	if perr != nil {
		logger.Warn("处理失败", "stage", perr.Stage, "error", perr.Err)
		r.failJob(ctx, job, logger, perr)
		return
	}

	persistStart := time.Now()
	if err := r.records.SetResults(ctx, docID, *results); err != nil {
		r.failJob(ctx, job, logger, &pkgerrors.ProcessingError{Stage: "persisting", Err: err})
		return
	}
	metrics.StageDuration.WithLabelValues("persisting").Observe(time.Since(persistStart).Seconds())

	if err := r.queue.Ack(ctx, job.ID); err != nil {
		logger.Error("Ack 失败", "error", err)
		return
	}
	metrics.DocumentTotal.WithLabelValues("ready").Inc()
	logger.Info("文档处理完成", "redactions", results.Redactions.Count, "events", len(results.ExtractedEvents))
}

// process 执行取件/提取/脱敏，全部成功才返回结果；部分结果绝不落库
func (r *Runner) process(ctx context.Context, job *docqueue.Job, logger *slog.Logger) (*record.Results, *pkgerrors.ProcessingError) {
	fetchStart := time.Now()
	_, fetchSpan := tracing.StartStageSpan(ctx, "fetch")
	reader, err := r.objects.Get(ctx, job.Payload.StorageKey)
	if err != nil {
		fetchSpan.End()
		return nil, &pkgerrors.ProcessingError{Stage: "fetch", Err: err}
	}
	data, err := io.ReadAll(reader)
	_ = reader.Close()
	fetchSpan.End()
	if err != nil {
		return nil, &pkgerrors.ProcessingError{Stage: "fetch", Err: err}
	}
	metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(fetchStart).Seconds())

	extractStart := time.Now()
	_, extractSpan := tracing.StartStageSpan(ctx, "extracting")
	text, err := r.extractor.ExtractText(ctx, job.Payload.MimeType, data)
	if err != nil {
		extractSpan.End()
		return nil, &pkgerrors.ProcessingError{Stage: "extracting", Err: err}
	}
	events := extraction.ExtractEvents(text)
	extractSpan.End()
	metrics.StageDuration.WithLabelValues("extracting").Observe(time.Since(extractStart).Seconds())

	redactStart := time.Now()
	_, redactSpan := tracing.StartStageSpan(ctx, "redacting")
	redacted, redactionMap := r.redactor.Redact(text)
	redactSpan.End()
	for category, count := range redactionMap.ByCategory {
		metrics.RedactionTotal.WithLabelValues(string(category)).Add(float64(count))
	}
	metrics.StageDuration.WithLabelValues("redacting").Observe(time.Since(redactStart).Seconds())

	sum := sha256.Sum256(data)
	return &record.Results{
		Checksum:        hex.EncodeToString(sum[:]),
		ExtractedText:   redacted,
		ExtractedEvents: events,
		Redactions:      redactionMap,
	}, nil
}

// failJob 上报队列裁决；仅终态失败才把文档置 FAILED，重试中的失败不外泄
func (r *Runner) failJob(ctx context.Context, job *docqueue.Job, logger *slog.Logger, perr *pkgerrors.ProcessingError) {
	terminal, err := r.queue.Fail(ctx, job.ID, perr.Error())
	if err != nil {
		logger.Error("Fail 上报失败", "error", err)
		return
	}
	if !terminal {
		// 文档停留在 PROCESSING，退避到期后同一 Job 重试；瞬时失败不外泄为 FAILED
		logger.Info("等待重试", "attempts", job.Attempts, "stage", perr.Stage)
		return
	}
	if err := r.records.SetFailed(ctx, job.Payload.DocumentID, perr.Error()); err != nil {
		logger.Error("置 FAILED 失败", "error", err)
		return
	}
	metrics.DocumentTotal.WithLabelValues("failed").Inc()
	logger.Warn("文档终态失败", "attempts", job.Attempts, "stage", perr.Stage)
}
