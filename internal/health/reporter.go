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

package health

import (
	"context"
	"encoding/json"
	"time"

	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/storage/cache"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
	"vault-pipeline/pkg/utils"
)

const (
	defaultFailedThreshold  = 10
	defaultBacklogThreshold = 100
	defaultStatsCacheTTL    = 5 * time.Second

	statsCacheKey = "vault:queue_stats"
)

// Health 队列健康探测结果
type Health struct {
	BackendReachable bool            `json:"backend_reachable"`
	Queues           map[string]bool `json:"queues"`
}

// QueueStats 单队列统计；Error 非空时 Stats 不可信
type QueueStats struct {
	Stats docqueue.Stats `json:"stats"`
	Error string         `json:"error,omitempty"`
}

// Report 统计报告：各队列计数加运维建议
type Report struct {
	Queues          map[string]QueueStats `json:"queues"`
	Recommendations []string              `json:"recommendations"`
	GeneratedAt     int64                 `json:"generated_at"`
}

// Reporter 队列健康与统计报表。健康探测每次现场 Ping，绝不走缓存；
// 统计可选经由短 TTL 缓存，多实例 API 时避免打爆队列后端
type Reporter struct {
	queues           map[string]docqueue.Queue
	cache            cache.Store
	cacheTTL         time.Duration
	failedThreshold  int
	backlogThreshold int
	logger           *log.Logger
}

// NewReporter 创建报表器；cacheStore 可为 nil（不缓存）
func NewReporter(queues map[string]docqueue.Queue, cacheStore cache.Store, cfg config.HealthConfig, logger *log.Logger) *Reporter {
	return &Reporter{
		queues:           queues,
		cache:            cacheStore,
		cacheTTL:         utils.ParseDurationDefault(cfg.StatsCacheTTL, defaultStatsCacheTTL),
		failedThreshold:  utils.DefaultInt(cfg.FailedThreshold, defaultFailedThreshold),
		backlogThreshold: utils.DefaultInt(cfg.BacklogThreshold, defaultBacklogThreshold),
		logger:           logger,
	}
}

// CheckHealth 逐队列 Ping；任一后端不可达时该队列为 false
func (r *Reporter) CheckHealth(ctx context.Context) Health {
	h := Health{
		BackendReachable: true,
		Queues:           make(map[string]bool, len(r.queues)),
	}
	for name, q := range r.queues {
		if err := q.Ping(ctx); err != nil {
			h.BackendReachable = false
			h.Queues[name] = false
			r.logger.Warn("队列健康探测失败", "queue", name, "error", err)
			continue
		}
		h.Queues[name] = true
	}
	return h
}

// GetStats 汇总各队列计数并生成建议；单队列失败只记入该队列，不影响其余
func (r *Reporter) GetStats(ctx context.Context) Report {
	if cached, ok := r.cachedReport(ctx); ok {
		return cached
	}

	report := Report{
		Queues:      make(map[string]QueueStats, len(r.queues)),
		GeneratedAt: time.Now().Unix(),
	}
	for name, q := range r.queues {
		st, err := q.Stats(ctx)
		if err != nil {
			report.Queues[name] = QueueStats{Error: err.Error()}
			r.logger.Warn("队列统计读取失败", "queue", name, "error", err)
			continue
		}
		report.Queues[name] = QueueStats{Stats: st}
	}
	report.Recommendations = r.recommendations(report.Queues)

	r.storeReport(ctx, report)
	return report
}

// recommendations 基于阈值生成运维建议
func (r *Reporter) recommendations(queues map[string]QueueStats) []string {
	recs := make([]string, 0, 3)
	var failed, waiting, active int
	for _, qs := range queues {
		if qs.Error != "" {
			continue
		}
		failed += qs.Stats.Failed
		waiting += qs.Stats.Waiting
		active += qs.Stats.Active
	}
	if failed > r.failedThreshold {
		recs = append(recs, "high failure rate: inspect recent job errors and reprocess affected documents")
	}
	if waiting > r.backlogThreshold {
		recs = append(recs, "large backlog: consider scaling worker processes")
	}
	if waiting > 0 && active == 0 {
		recs = append(recs, "no active workers: queued documents are not being processed")
	}
	return recs
}

func (r *Reporter) cachedReport(ctx context.Context) (Report, bool) {
	if r.cache == nil {
		return Report{}, false
	}
	raw, ok, err := r.cache.Get(ctx, statsCacheKey)
	if err != nil || !ok {
		return Report{}, false
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, false
	}
	return report, true
}

func (r *Reporter) storeReport(ctx context.Context, report Report) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, statsCacheKey, raw, r.cacheTTL); err != nil {
		r.logger.Warn("统计缓存写入失败", "error", err)
	}
}
