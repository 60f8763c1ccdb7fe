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
	"sort"
	"sync"
	"time"

	pkgerrors "vault-pipeline/pkg/errors"
)

// MemoryQueue 进程内队列实现（测试与本地开发）。
// delayed 到期与 active 租约过期都由 Dequeue 现场判定，不依赖后台协程
type MemoryQueue struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	maxAttempts int
	backoff     time.Duration
	lease       time.Duration
	wake        chan struct{} // Enqueue/Fail 后唤醒阻塞中的 Dequeue
	closed      bool
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(maxAttempts int, backoff, lease time.Duration) *MemoryQueue {
	return &MemoryQueue{
		jobs:        make(map[string]*Job),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		lease:       lease,
		wake:        make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue 实现 Queue
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string, payload Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "queue closed")
	}
	if _, ok := q.jobs[jobID]; ok {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "job %s already enqueued", jobID)
	}
	now := time.Now()
	job := &Job{
		ID:        jobID,
		Payload:   payload,
		State:     StateWaiting,
		CreatedAt: now.UnixNano(),
		UpdatedAt: now.Unix(),
	}
	q.jobs[job.ID] = job
	q.notify()
	return nil
}

// reapExpired 把租约过期且预算耗尽的 active 任务置为终态 failed；
// 预算未耗尽的留给 claimable 重新认领
func (q *MemoryQueue) reapExpired(now time.Time) {
	for _, job := range q.jobs {
		if job.State == StateActive && job.LeaseExpiresAt > 0 &&
			job.LeaseExpiresAt <= now.Unix() && job.Attempts >= q.maxAttempts {
			job.State = StateFailed
			job.LastError = "lease expired"
			job.UpdatedAt = now.Unix()
		}
	}
}

// claimable 返回当前可认领的 Job（FIFO），以及下一个 delayed 到期或租约过期点
func (q *MemoryQueue) claimable(now time.Time) (*Job, time.Time) {
	var candidates []*Job
	var nextDue time.Time
	earliest := func(t time.Time) {
		if nextDue.IsZero() || t.Before(nextDue) {
			nextDue = t
		}
	}
	for _, job := range q.jobs {
		switch job.State {
		case StateWaiting:
			candidates = append(candidates, job)
		case StateDelayed:
			due := time.Unix(job.AvailableAt, 0)
			if !due.After(now) {
				candidates = append(candidates, job)
			} else {
				earliest(due)
			}
		case StateActive:
			// 认领方崩溃后租约过期，任务可被重新认领
			if job.LeaseExpiresAt > 0 {
				expiry := time.Unix(job.LeaseExpiresAt, 0)
				if !expiry.After(now) {
					candidates = append(candidates, job)
				} else {
					earliest(expiry)
				}
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nextDue
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt < candidates[j].CreatedAt
	})
	return candidates[0], nextDue
}

// Dequeue 实现 Queue；阻塞直到有任务或 ctx 取消
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "queue closed")
		}
		now := time.Now()
		q.reapExpired(now)
		job, nextDue := q.claimable(now)
		if job != nil {
			job.State = StateActive
			job.Attempts++
			job.UpdatedAt = now.Unix()
			job.LeaseExpiresAt = now.Add(q.lease).Unix()
			cp := *job
			q.mu.Unlock()
			return &cp, nil
		}
		q.mu.Unlock()

		wait := time.Minute
		if !nextDue.IsZero() {
			wait = time.Until(nextDue)
			if wait < 0 {
				wait = 0
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack 实现 Queue；重复 Ack 为 no-op
func (q *MemoryQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "job %s", jobID)
	}
	if job.State == StateCompleted {
		return nil
	}
	if job.State != StateActive {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "job %s is %s", jobID, job.State)
	}
	job.State = StateCompleted
	job.LastError = ""
	job.UpdatedAt = time.Now().Unix()
	return nil
}

// Fail 实现 Queue
func (q *MemoryQueue) Fail(ctx context.Context, jobID string, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return false, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "job %s", jobID)
	}
	if job.State != StateActive {
		return false, pkgerrors.Wrapf(pkgerrors.ErrInvalidState, "job %s is %s", jobID, job.State)
	}
	now := time.Now()
	job.LastError = reason
	job.UpdatedAt = now.Unix()
	if job.Attempts >= q.maxAttempts {
		job.State = StateFailed
		return true, nil
	}
	job.State = StateDelayed
	job.AvailableAt = now.Add(q.backoff).Unix()
	q.notify()
	return false, nil
}

// Stats 实现 Queue
func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var st Stats
	for _, job := range q.jobs {
		switch job.State {
		case StateWaiting:
			st.Waiting++
		case StateActive:
			st.Active++
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		case StateDelayed:
			st.Delayed++
		}
	}
	st.Total = len(q.jobs)
	return st, nil
}

// Ping 实现 Queue
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, "queue closed")
	}
	return nil
}

// Close 实现 Queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
	return nil
}
