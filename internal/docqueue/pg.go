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

package docqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "vault-pipeline/pkg/errors"
)

// pgQueue PostgreSQL 实现 Queue，使用 vault_jobs 表。
// delayed 即 available_at 在未来；认领用 FOR UPDATE SKIP LOCKED，按入队时间 FIFO。
// 认领时写入 lease_expires_at 租约，认领方崩溃后过期任务可被重新认领
type pgQueue struct {
	pool        *pgxpool.Pool
	name        string
	maxAttempts int
	backoff     time.Duration
	lease       time.Duration
	poll        time.Duration
}

// NewPostgresQueue 创建基于 PostgreSQL 的文档队列；pool 与记录存储共用 DSN 即可
func NewPostgresQueue(ctx context.Context, dsn, name string, maxAttempts int, backoff, lease, poll time.Duration) (Queue, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "connect postgres: "+err.Error())
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "ping postgres: "+err.Error())
	}
	return &pgQueue{pool: pool, name: name, maxAttempts: maxAttempts, backoff: backoff, lease: lease, poll: poll}, nil
}

// Enqueue 实现 Queue
func (q *pgQueue) Enqueue(ctx context.Context, jobID string, payload Payload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tag, err := q.pool.Exec(ctx,
		`INSERT INTO vault_jobs (id, queue, payload, state, attempts, created_at, updated_at)
VALUES ($1, $2, $3, 'waiting', 0, now(), now())
ON CONFLICT (id) DO NOTHING`,
		jobID, q.name, payloadJSON,
	)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "enqueue: "+err.Error())
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "job %s already enqueued", jobID)
	}
	return nil
}

// reapExpired 把租约过期且预算耗尽的 active 任务置为终态 failed；
// 预算未耗尽的留在 active，由 claimOne 的租约谓词重新认领
func (q *pgQueue) reapExpired(ctx context.Context) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE vault_jobs SET state = 'failed', last_error = 'lease expired', updated_at = now()
WHERE queue = $1 AND state = 'active' AND lease_expires_at <= now() AND attempts >= $2`,
		q.name, q.maxAttempts,
	)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "reap: "+err.Error())
	}
	return nil
}

// claimOne 原子认领一条 waiting、已到期的 delayed 或租约过期的 active；
// 无任务时返回 nil, nil
func (q *pgQueue) claimOne(ctx context.Context) (*Job, error) {
	var (
		job          Job
		payloadBytes []byte
		state        string
		lastError    *string
		leaseExpires time.Time
		createdAt    time.Time
		updatedAt    time.Time
	)
	err := q.pool.QueryRow(ctx,
		`WITH sel AS (
  SELECT id FROM vault_jobs
  WHERE queue = $1 AND (
    state = 'waiting'
    OR (state = 'delayed' AND available_at <= now())
    OR (state = 'active' AND lease_expires_at <= now() AND attempts < $2)
  )
  ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
)
UPDATE vault_jobs SET state = 'active', attempts = attempts + 1,
  lease_expires_at = now() + $3::interval, updated_at = now()
FROM sel WHERE vault_jobs.id = sel.id
RETURNING vault_jobs.id, vault_jobs.payload, vault_jobs.state, vault_jobs.attempts,
          vault_jobs.last_error, vault_jobs.lease_expires_at, vault_jobs.created_at, vault_jobs.updated_at`,
		q.name, q.maxAttempts, q.lease.String(),
	).Scan(&job.ID, &payloadBytes, &state, &job.Attempts, &lastError, &leaseExpires, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "claim: "+err.Error())
	}
	if len(payloadBytes) > 0 {
		_ = json.Unmarshal(payloadBytes, &job.Payload)
	}
	job.State = State(state)
	if lastError != nil {
		job.LastError = *lastError
	}
	job.LeaseExpiresAt = leaseExpires.Unix()
	job.CreatedAt = createdAt.UnixNano()
	job.UpdatedAt = updatedAt.Unix()
	return &job, nil
}

// Dequeue 实现 Queue；轮询认领直到有任务或 ctx 取消
func (q *pgQueue) Dequeue(ctx context.Context) (*Job, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		if err := q.reapExpired(ctx); err != nil {
			return nil, err
		}
		job, err := q.claimOne(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ack 实现 Queue；重复 Ack 为 no-op
func (q *pgQueue) Ack(ctx context.Context, jobID string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE vault_jobs SET state = 'completed', last_error = NULL, updated_at = now()
WHERE id = $1 AND state IN ('active', 'completed')`,
		jobID,
	)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "ack: "+err.Error())
	}
	if tag.RowsAffected() == 0 {
		return q.mismatch(ctx, jobID)
	}
	return nil
}

// Fail 实现 Queue；状态与退避在单条 UPDATE 里判定，避免读改写竞态
func (q *pgQueue) Fail(ctx context.Context, jobID string, reason string) (bool, error) {
	var state string
	err := q.pool.QueryRow(ctx,
		`UPDATE vault_jobs SET
  state = CASE WHEN attempts >= $1 THEN 'failed' ELSE 'delayed' END,
  available_at = CASE WHEN attempts >= $1 THEN NULL ELSE now() + $2::interval END,
  last_error = $3, updated_at = now()
WHERE id = $4 AND state = 'active'
RETURNING state`,
		q.maxAttempts, q.backoff.String(), reason, jobID,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, q.mismatch(ctx, jobID)
		}
		return false, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "fail: "+err.Error())
	}
	return state == string(StateFailed), nil
}

// mismatch 区分 Job 不存在与状态不符
func (q *pgQueue) mismatch(ctx context.Context, jobID string) error {
	var state string
	err := q.pool.QueryRow(ctx, `SELECT state FROM vault_jobs WHERE id = $1`, jobID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "job %s", jobID)
		}
		return pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "job lookup: "+err.Error())
	}
	return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "job %s is %s", jobID, state)
}

// Stats 实现 Queue
func (q *pgQueue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT state, count(*) FROM vault_jobs WHERE queue = $1 GROUP BY state`, q.name)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "stats: "+err.Error())
	}
	defer rows.Close()
	var st Stats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, err
		}
		switch State(state) {
		case StateWaiting:
			st.Waiting = count
		case StateActive:
			st.Active = count
		case StateCompleted:
			st.Completed = count
		case StateFailed:
			st.Failed = count
		case StateDelayed:
			st.Delayed = count
		}
		st.Total += count
	}
	return st, rows.Err()
}

// Ping 实现 Queue
func (q *pgQueue) Ping(ctx context.Context) error {
	if err := q.pool.Ping(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "ping: "+err.Error())
	}
	return nil
}

// Close 实现 Queue
func (q *pgQueue) Close() error {
	q.pool.Close()
	return nil
}
