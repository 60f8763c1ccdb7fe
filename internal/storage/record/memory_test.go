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

package record

import (
	"context"
	"errors"
	"testing"

	pkgerrors "vault-pipeline/pkg/errors"
	"vault-pipeline/pkg/redaction"
)

func newTestDoc(id, owner string) *Document {
	return &Document{
		ID:         id,
		OwnerID:    owner,
		Name:       "contract.pdf",
		StorageKey: owner + "/" + id,
		Size:       1024,
		MimeType:   "application/pdf",
		Status:     StatusPending,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newTestDoc("doc-1", "user-1")
	doc.Tags = []string{"legal", "legal", "2026"}
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", got.Status)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags should be deduplicated, got %v", got.Tags)
	}
	if got.CreatedAt == 0 || got.UpdatedAt == 0 {
		t.Error("timestamps should be set on create")
	}

	if err := s.Create(ctx, newTestDoc("doc-1", "user-1")); !errors.Is(err, pkgerrors.ErrValidation) {
		t.Errorf("duplicate create should return ErrValidation, got %v", err)
	}
}

func TestMemoryStore_GetOwned(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTestDoc("doc-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := s.GetOwned(ctx, "user-1", "doc-1"); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}
	// 非属主与不存在不可区分
	if _, err := s.GetOwned(ctx, "user-2", "doc-1"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("wrong owner should return ErrNotFound, got %v", err)
	}
	if _, err := s.GetOwned(ctx, "user-1", "missing"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("missing document should return ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_TransitionStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTestDoc("doc-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.TransitionStatus(ctx, "doc-1", StatusPending, StatusProcessing); err != nil {
		t.Fatalf("PENDING -> PROCESSING failed: %v", err)
	}
	// CAS：第二次相同迁移必须失败
	if err := s.TransitionStatus(ctx, "doc-1", StatusPending, StatusProcessing); !errors.Is(err, pkgerrors.ErrInvalidState) {
		t.Errorf("stale CAS should return ErrInvalidState, got %v", err)
	}
	if err := s.TransitionStatus(ctx, "missing", StatusPending, StatusProcessing); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("missing document should return ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReprocessClearsError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTestDoc("doc-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.TransitionStatus(ctx, "doc-1", StatusPending, StatusProcessing); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.SetFailed(ctx, "doc-1", "extraction failed: bad page"); err != nil {
		t.Fatalf("SetFailed failed: %v", err)
	}

	doc, _ := s.Get(ctx, "doc-1")
	if doc.Status != StatusFailed || doc.ProcessingError == "" {
		t.Fatalf("expected FAILED with error message, got %s / %q", doc.Status, doc.ProcessingError)
	}

	// FAILED -> PENDING 时清空错误信息
	if err := s.TransitionStatus(ctx, "doc-1", StatusFailed, StatusPending); err != nil {
		t.Fatalf("FAILED -> PENDING failed: %v", err)
	}
	doc, _ = s.Get(ctx, "doc-1")
	if doc.ProcessingError != "" {
		t.Errorf("ProcessingError should be cleared on reprocess, got %q", doc.ProcessingError)
	}
}

func TestMemoryStore_SetResults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTestDoc("doc-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	res := Results{
		Checksum:      "abc123",
		ExtractedText: "redacted body",
		Redactions: redaction.Map{
			Count:      2,
			ByCategory: map[redaction.Category]int{redaction.CategorySSN: 2},
		},
	}

	// 仅 PROCESSING 可写入产物
	if err := s.SetResults(ctx, "doc-1", res); !errors.Is(err, pkgerrors.ErrInvalidState) {
		t.Fatalf("SetResults on PENDING should fail, got %v", err)
	}

	if err := s.TransitionStatus(ctx, "doc-1", StatusPending, StatusProcessing); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.SetResults(ctx, "doc-1", res); err != nil {
		t.Fatalf("SetResults failed: %v", err)
	}

	doc, _ := s.Get(ctx, "doc-1")
	if doc.Status != StatusReady {
		t.Errorf("expected READY, got %s", doc.Status)
	}
	if !doc.PIIRedacted {
		t.Error("READY document must have PIIRedacted set")
	}
	if doc.RedactionCount != 2 || doc.RedactionsByType[redaction.CategorySSN] != 2 {
		t.Errorf("unexpected redaction stats: %d %v", doc.RedactionCount, doc.RedactionsByType)
	}
	if doc.Checksum != "abc123" || doc.ExtractedText != "redacted body" {
		t.Errorf("results不完整: %+v", doc)
	}
}

func TestMemoryStore_GetReturnsIsolatedSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newTestDoc("doc-1", "user-1")
	doc.Tags = []string{"legal", "2026"}
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.TransitionStatus(ctx, "doc-1", StatusPending, StatusProcessing); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.SetResults(ctx, "doc-1", Results{
		Checksum:      "abc123",
		ExtractedText: "body",
		Redactions: redaction.Map{
			Count:      1,
			ByCategory: map[redaction.Category]int{redaction.CategorySSN: 1},
		},
	}); err != nil {
		t.Fatalf("SetResults failed: %v", err)
	}

	// 篡改快照不得影响库内记录
	snap, _ := s.Get(ctx, "doc-1")
	snap.Tags[0] = "mangled"
	snap.RedactionsByType[redaction.CategorySSN] = 99
	snap.RedactionsByType[redaction.CategoryEmail] = 7

	fresh, _ := s.Get(ctx, "doc-1")
	if fresh.Tags[0] != "legal" {
		t.Errorf("store tags corrupted by caller: %v", fresh.Tags)
	}
	if fresh.RedactionsByType[redaction.CategorySSN] != 1 || len(fresh.RedactionsByType) != 1 {
		t.Errorf("store redaction map corrupted by caller: %v", fresh.RedactionsByType)
	}
}

func TestMemoryStore_AttachDetachJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTestDoc("doc-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.AttachJob(ctx, "doc-1", "job-1"); err != nil {
		t.Fatalf("AttachJob failed: %v", err)
	}
	if err := s.AttachJob(ctx, "doc-1", "job-2"); !errors.Is(err, pkgerrors.ErrInvalidState) {
		t.Errorf("second AttachJob should fail, got %v", err)
	}

	// 回滚只认同一 jobID
	if err := s.DetachJob(ctx, "doc-1", "job-2"); !errors.Is(err, pkgerrors.ErrInvalidState) {
		t.Errorf("DetachJob with foreign job id should fail, got %v", err)
	}
	if err := s.DetachJob(ctx, "doc-1", "job-1"); err != nil {
		t.Fatalf("DetachJob failed: %v", err)
	}
	doc, _ := s.Get(ctx, "doc-1")
	if doc.JobID != "" {
		t.Errorf("detach should clear job id, got %q", doc.JobID)
	}

	// 清坑后门闸重新可用
	if err := s.AttachJob(ctx, "doc-1", "job-3"); err != nil {
		t.Errorf("AttachJob after detach failed: %v", err)
	}
	if err := s.DetachJob(ctx, "missing", "job-1"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("DetachJob on missing doc should be ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SetFailedRequiresProcessing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTestDoc("doc-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.SetFailed(ctx, "doc-1", "boom"); !errors.Is(err, pkgerrors.ErrInvalidState) {
		t.Errorf("SetFailed on PENDING should fail, got %v", err)
	}
}
