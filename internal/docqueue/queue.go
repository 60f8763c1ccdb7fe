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
	"fmt"
	"time"

	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/utils"
)

// State Job 生命周期状态
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed" // 失败退避中，available_at 到期后重回 waiting
)

const (
	// DefaultQueueName 默认队列名
	DefaultQueueName = "vault-documents"

	defaultMaxAttempts  = 3
	defaultRetryBackoff = 30 * time.Second
	defaultLeaseTimeout = 5 * time.Minute
	defaultPollInterval = time.Second
)

// Payload 入队时对文档记录的快照；Worker 不回读 record 即可开工
type Payload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
}

// Job 队列中的一条处理任务
type Job struct {
	ID             string  `json:"id"`
	Payload        Payload `json:"payload"`
	State          State   `json:"state"`
	Attempts       int     `json:"attempts"` // 含本次的已认领次数
	LastError      string  `json:"last_error,omitempty"`
	CreatedAt      int64   `json:"created_at"`
	UpdatedAt      int64   `json:"updated_at"`
	AvailableAt    int64   `json:"available_at"`     // delayed 状态的可重试时间点
	LeaseExpiresAt int64   `json:"lease_expires_at"` // active 状态的租约到期点，过期后可被重新认领
}

// Stats 各状态 Job 计数
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// Queue 持久化工作队列：API 入队，Worker 认领并执行处理流水线。
// 后端不可达时各方法包裹 pkg/errors.ErrBackendUnavailable
type Queue interface {
	// Enqueue 入队一条待处理任务；jobID 由调用方生成，
	// 使记录侧可先占坑（AttachJob）再入队，重复 id 报 ErrInvalidState
	Enqueue(ctx context.Context, jobID string, payload Payload) error
	// Dequeue 阻塞认领：有任务时原子置为 active、续租约并返回；
	// 租约过期的 active 任务可被重新认领。ctx 取消时返回 ctx.Err()
	Dequeue(ctx context.Context) (*Job, error)
	// Ack 标记完成；对已完成的 Job 幂等
	Ack(ctx context.Context, jobID string) error
	// Fail 记录一次失败：未耗尽尝试预算时退避进入 delayed，否则终态 failed。
	// terminal 表示本次失败是否为终态
	Fail(ctx context.Context, jobID string, reason string) (terminal bool, err error)
	// Stats 非阻塞统计各状态计数
	Stats(ctx context.Context) (Stats, error)
	// Ping 轻量连通性探测
	Ping(ctx context.Context) error
	// Close 关闭队列连接
	Close() error
}

// NewQueue 根据配置创建队列
func NewQueue(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	maxAttempts := utils.DefaultInt(cfg.MaxAttempts, defaultMaxAttempts)
	backoff := utils.ParseDurationDefault(cfg.RetryBackoff, defaultRetryBackoff)
	lease := utils.ParseDurationDefault(cfg.LeaseTimeout, defaultLeaseTimeout)
	switch cfg.Type {
	case "", "memory":
		return NewMemoryQueue(maxAttempts, backoff, lease), nil
	case "postgres":
		name := utils.CoalesceString(cfg.Name, DefaultQueueName)
		poll := utils.ParseDurationDefault(cfg.PollInterval, defaultPollInterval)
		return NewPostgresQueue(ctx, cfg.DSN, name, maxAttempts, backoff, lease, poll)
	default:
		return nil, fmt.Errorf("不支持的队列类型: %s", cfg.Type)
	}
}
