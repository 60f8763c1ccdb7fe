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
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vault-pipeline/internal/extraction"
	pkgerrors "vault-pipeline/pkg/errors"
	"vault-pipeline/pkg/utils"
)

// pgStore PostgreSQL 实现，使用 vault_documents 表
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的文档记录存储；pool 可与队列共用 DSN
func NewPostgresStore(ctx context.Context, dsn string, poolSize int) (Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, err.Error())
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Create(ctx context.Context, doc *Document) error {
	now := time.Now().Unix()
	tags, _ := json.Marshal(utils.DedupStrings(doc.Tags))
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_documents
		   (id, owner_id, name, storage_key, size, mime_type, tags, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		doc.ID, doc.OwnerID, doc.Name, doc.StorageKey, doc.Size, doc.MimeType, tags, string(doc.Status), now,
	)
	return err
}

func (s *pgStore) Get(ctx context.Context, id string) (*Document, error) {
	return s.get(ctx, id, "")
}

func (s *pgStore) GetOwned(ctx context.Context, ownerID, id string) (*Document, error) {
	return s.get(ctx, id, ownerID)
}

func (s *pgStore) get(ctx context.Context, id, ownerID string) (*Document, error) {
	query := `SELECT id, owner_id, name, storage_key, size, mime_type, checksum, tags, status,
	                 job_id, processing_error, pii_redacted, redaction_count, redactions_by_type,
	                 extracted_text, extracted_events, created_at, updated_at
	          FROM vault_documents WHERE id = $1`
	args := []interface{}{id}
	if ownerID != "" {
		query += ` AND owner_id = $2`
		args = append(args, ownerID)
	}

	var doc Document
	var checksum, jobID, procErr, extractedText *string
	var tagsJSON, byTypeJSON, eventsJSON []byte
	var status string
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.OwnerID, &doc.Name, &doc.StorageKey, &doc.Size, &doc.MimeType,
		&checksum, &tagsJSON, &status, &jobID, &procErr, &doc.PIIRedacted, &doc.RedactionCount,
		&byTypeJSON, &extractedText, &eventsJSON, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
		}
		return nil, err
	}
	doc.Status = Status(status)
	if checksum != nil {
		doc.Checksum = *checksum
	}
	if jobID != nil {
		doc.JobID = *jobID
	}
	if procErr != nil {
		doc.ProcessingError = *procErr
	}
	if extractedText != nil {
		doc.ExtractedText = *extractedText
	}
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal(tagsJSON, &doc.Tags)
	}
	if len(byTypeJSON) > 0 {
		_ = json.Unmarshal(byTypeJSON, &doc.RedactionsByType)
	}
	if len(eventsJSON) > 0 {
		_ = json.Unmarshal(eventsJSON, &doc.ExtractedEvents)
	}
	return &doc, nil
}

func (s *pgStore) TransitionStatus(ctx context.Context, id string, from, to Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vault_documents
		 SET status = $1,
		     processing_error = CASE WHEN $2 = 'FAILED' THEN NULL ELSE processing_error END,
		     job_id = CASE WHEN $2 = 'FAILED' THEN NULL ELSE job_id END,
		     updated_at = $3
		 WHERE id = $4 AND status = $2`,
		string(to), string(from), time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.mismatch(ctx, id, from)
	}
	return nil
}

func (s *pgStore) AttachJob(ctx context.Context, id, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vault_documents SET job_id = $1, updated_at = $2
		 WHERE id = $3 AND status = 'PENDING' AND job_id IS NULL`,
		jobID, time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.mismatch(ctx, id, StatusPending)
	}
	return nil
}

func (s *pgStore) DetachJob(ctx context.Context, id, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vault_documents SET job_id = NULL, updated_at = $1
		 WHERE id = $2 AND status = 'PENDING' AND job_id = $3`,
		time.Now().Unix(), id, jobID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.mismatch(ctx, id, StatusPending)
	}
	return nil
}

func (s *pgStore) SetResults(ctx context.Context, id string, res Results) error {
	byType, _ := json.Marshal(res.Redactions.ByCategory)
	events, _ := json.Marshal(res.ExtractedEvents)
	if res.ExtractedEvents == nil {
		events, _ = json.Marshal([]extraction.Event{})
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE vault_documents
		 SET status = 'READY', checksum = $1, extracted_text = $2, extracted_events = $3,
		     redaction_count = $4, redactions_by_type = $5, pii_redacted = TRUE,
		     processing_error = NULL, updated_at = $6
		 WHERE id = $7 AND status = 'PROCESSING'`,
		res.Checksum, res.ExtractedText, events, res.Redactions.Count, byType, time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.mismatch(ctx, id, StatusProcessing)
	}
	return nil
}

func (s *pgStore) SetFailed(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vault_documents
		 SET status = 'FAILED', processing_error = $1, pii_redacted = FALSE, updated_at = $2
		 WHERE id = $3 AND status = 'PROCESSING'`,
		errMsg, time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.mismatch(ctx, id, StatusProcessing)
	}
	return nil
}

// mismatch 区分记录缺失与状态不符（CAS 失败时的错误归类）
func (s *pgStore) mismatch(ctx context.Context, id string, expected Status) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM vault_documents WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "document %s", id)
		}
		return err
	}
	return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "document %s is %s, expected %s", id, current, expected)
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}
