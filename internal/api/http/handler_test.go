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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"vault-pipeline/internal/api/http/middleware"
	"vault-pipeline/internal/app/vault"
	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/health"
	"vault-pipeline/internal/storage/object"
	"vault-pipeline/internal/storage/record"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
)

// buildTestServer 组装 hertz 测试服务；identity 中间件模拟 JWT 解出的属主
func buildTestServer(t *testing.T, ownerID, role string) (*server.Hertz, *object.MemoryStore) {
	t.Helper()
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	records := record.NewMemoryStore()
	objects := object.NewMemoryStore()
	queue := docqueue.NewMemoryQueue(3, 30*time.Second, time.Minute)
	reporter := health.NewReporter(map[string]docqueue.Queue{docqueue.DefaultQueueName: queue}, nil, config.HealthConfig{}, logger)
	svc := vault.NewService(records, objects, queue, reporter, config.UploadConfig{}, config.ObjectConfig{}, logger)

	h := server.Default(server.WithHostPorts(":0"))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		if ownerID != "" {
			ctx.Set("owner_id", ownerID)
		}
		if role != "" {
			ctx.Set("role", role)
		}
		ctx.Next(c)
	})
	handler := NewHandler(svc, logger)
	router := NewRouter(handler, middleware.NewMiddleware(logger))
	router.Apply(h)
	return h, objects
}

func jsonBody(t *testing.T, v interface{}) *ut.Body {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
}

var jsonHeader = ut.Header{Key: "Content-Type", Value: "application/json"}

func TestRequestUpload_Created(t *testing.T) {
	h, _ := buildTestServer(t, "user-1", "")

	w := ut.PerformRequest(h.Engine, "POST", "/api/vault/documents", jsonBody(t, map[string]interface{}{
		"file_name": "notes.txt",
		"size":      128,
		"mime_type": "text/plain",
		"tags":      []string{"legal"},
	}), jsonHeader)

	if got := w.Result().StatusCode(); got != 201 {
		t.Fatalf("status = %d, want 201: %s", got, w.Result().Body())
	}
	body := w.Result().Body()
	if !bytes.Contains(body, []byte(`"document_id"`)) || !bytes.Contains(body, []byte(`"upload_url"`)) {
		t.Errorf("missing intent fields: %s", body)
	}
}

func TestRequestUpload_ValidationTo400(t *testing.T) {
	h, _ := buildTestServer(t, "user-1", "")

	w := ut.PerformRequest(h.Engine, "POST", "/api/vault/documents", jsonBody(t, map[string]interface{}{
		"file_name": "huge.pdf",
		"size":      51 << 20,
		"mime_type": "application/pdf",
	}), jsonHeader)

	if got := w.Result().StatusCode(); got != 400 {
		t.Errorf("oversize upload should be 400, got %d", got)
	}
}

func TestGetStatus_NotFoundTo404(t *testing.T) {
	h, _ := buildTestServer(t, "user-1", "")
	w := ut.PerformRequest(h.Engine, "GET", "/api/vault/documents/absent", nil)
	if got := w.Result().StatusCode(); got != 404 {
		t.Errorf("missing document should be 404, got %d", got)
	}
}

func TestReprocess_InvalidStateTo409(t *testing.T) {
	h, objects := buildTestServer(t, "user-1", "")

	w := ut.PerformRequest(h.Engine, "POST", "/api/vault/documents", jsonBody(t, map[string]interface{}{
		"file_name": "notes.txt",
		"size":      16,
		"mime_type": "text/plain",
	}), jsonHeader)
	var intent vault.UploadIntent
	if err := json.Unmarshal(w.Result().Body(), &intent); err != nil {
		t.Fatalf("unmarshal intent: %v", err)
	}
	data := []byte("hello")
	if err := objects.Put(context.Background(), intent.UploadKey, strings.NewReader(string(data)), int64(len(data)), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// PENDING 文档不可重处理
	w = ut.PerformRequest(h.Engine, "POST", "/api/vault/documents/"+intent.DocumentID+"/reprocess", nil)
	if got := w.Result().StatusCode(); got != 409 {
		t.Errorf("reprocess on PENDING should be 409, got %d", got)
	}
}

func TestCompleteUpload_Flow(t *testing.T) {
	h, objects := buildTestServer(t, "user-1", "")

	w := ut.PerformRequest(h.Engine, "POST", "/api/vault/documents", jsonBody(t, map[string]interface{}{
		"file_name": "notes.txt",
		"size":      16,
		"mime_type": "text/plain",
	}), jsonHeader)
	var intent vault.UploadIntent
	if err := json.Unmarshal(w.Result().Body(), &intent); err != nil {
		t.Fatalf("unmarshal intent: %v", err)
	}
	data := "content to process"
	if err := objects.Put(context.Background(), intent.UploadKey, strings.NewReader(data), int64(len(data)), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	w = ut.PerformRequest(h.Engine, "POST", "/api/vault/documents/"+intent.DocumentID+"/complete", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("complete status = %d: %s", got, w.Result().Body())
	}
	if !bytes.Contains(w.Result().Body(), []byte(`"job_id"`)) {
		t.Errorf("missing job_id: %s", w.Result().Body())
	}
}

func TestQueueStats_PrivilegeGate(t *testing.T) {
	h, _ := buildTestServer(t, "user-1", "")
	w := ut.PerformRequest(h.Engine, "GET", "/api/vault/queues/stats", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("stats status = %d", got)
	}
	if bytes.Contains(w.Result().Body(), []byte(`"stats"`)) {
		t.Errorf("non-admin must not see stats block: %s", w.Result().Body())
	}

	admin, _ := buildTestServer(t, "admin-1", middleware.RoleAdmin)
	w = ut.PerformRequest(admin.Engine, "GET", "/api/vault/queues/stats", nil)
	if !bytes.Contains(w.Result().Body(), []byte(`"stats"`)) {
		t.Errorf("admin should see stats block: %s", w.Result().Body())
	}
}

func TestHealthAndMetricsExposed(t *testing.T) {
	h, _ := buildTestServer(t, "", "")

	w := ut.PerformRequest(h.Engine, "GET", "/api/health", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Errorf("health status = %d", got)
	}
	w = ut.PerformRequest(h.Engine, "GET", "/metrics", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Errorf("metrics status = %d", got)
	}
}
