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

package http

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"vault-pipeline/internal/api/http/middleware"
	"vault-pipeline/internal/app/vault"
	pkgerrors "vault-pipeline/pkg/errors"
	"vault-pipeline/pkg/log"
	"vault-pipeline/pkg/metrics"
)

// Handler HTTP 处理器：薄壳，业务语义全部在 vault.Service
type Handler struct {
	svc    vault.Service
	logger *log.Logger
}

// NewHandler 创建新的 HTTP 处理器
func NewHandler(svc vault.Service, logger *log.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// writeError 哨兵错误到状态码的统一映射
func (h *Handler) writeError(ctx *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrValidation):
		status = consts.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		status = consts.StatusForbidden
	case errors.Is(err, pkgerrors.ErrNotFound):
		status = consts.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidState):
		status = consts.StatusConflict
	case errors.Is(err, pkgerrors.ErrBackendUnavailable):
		status = consts.StatusServiceUnavailable
	}
	if status == consts.StatusInternalServerError {
		h.logger.Error("请求处理失败", "error", err)
	}
	ctx.JSON(status, map[string]string{
		"error": err.Error(),
	})
}

type requestUploadBody struct {
	FileName string   `json:"file_name"`
	Size     int64    `json:"size"`
	MimeType string   `json:"mime_type"`
	Tags     []string `json:"tags"`
}

// RequestUpload 登记上传意向
// POST /api/vault/documents
func (h *Handler) RequestUpload(c context.Context, ctx *app.RequestContext) {
	var body requestUploadBody
	if err := ctx.BindJSON(&body); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}
	intent, err := h.svc.RequestUpload(c, middleware.OwnerID(ctx), body.FileName, body.Size, body.MimeType, body.Tags)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusCreated, intent)
}

// CompleteUpload 上传完成，入队处理
// POST /api/vault/documents/:id/complete
func (h *Handler) CompleteUpload(c context.Context, ctx *app.RequestContext) {
	result, err := h.svc.CompleteUpload(c, middleware.OwnerID(ctx), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, result)
}

// GetStatus 状态查询
// GET /api/vault/documents/:id
func (h *Handler) GetStatus(c context.Context, ctx *app.RequestContext) {
	info, err := h.svc.GetStatus(c, middleware.OwnerID(ctx), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, info)
}

// Reprocess 失败文档重处理
// POST /api/vault/documents/:id/reprocess
func (h *Handler) Reprocess(c context.Context, ctx *app.RequestContext) {
	result, err := h.svc.Reprocess(c, middleware.OwnerID(ctx), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, result)
}

// QueueStats 队列健康与统计；统计块仅 admin 可见
// GET /api/vault/queues/stats
func (h *Handler) QueueStats(c context.Context, ctx *app.RequestContext) {
	result, err := h.svc.GetQueueStats(c, middleware.IsAdmin(ctx))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, result)
}

// HealthCheck 服务健康检查
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "vault-api",
	})
}

// Metrics Prometheus 指标暴露
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4", buf.Bytes())
}
