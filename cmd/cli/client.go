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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/health"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
)

func apiBaseURL() string {
	if u := os.Getenv("VAULT_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	c := resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token := os.Getenv("VAULT_API_TOKEN"); token != "" {
		c.SetAuthToken(token)
	}
	return c
}

// statsReport CLI 用的统计视图，与 API /api/vault/queues/stats 的响应对齐
type statsReport struct {
	Health health.Health  `json:"health"`
	Stats  *health.Report `json:"stats,omitempty"`
}

// fetchStatsHTTP 经 API 拉取队列统计（需要 admin Token 才有 stats 块）
func fetchStatsHTTP() (*statsReport, error) {
	var out statsReport
	resp, err := newClient().R().
		SetResult(&out).
		Get("/api/vault/queues/stats")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/vault/queues/stats: %s", resp.String())
	}
	return &out, nil
}

// fetchStatsDirect 直连队列后端取统计（API 不可达时的运维兜底，
// 需要 VAULT_QUEUE_DSN 指向 Postgres 队列）
func fetchStatsDirect(ctx context.Context) (*statsReport, error) {
	dsn := os.Getenv("VAULT_QUEUE_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("API 不可达且未设置 VAULT_QUEUE_DSN")
	}
	queueName := os.Getenv("VAULT_QUEUE_NAME")
	if queueName == "" {
		queueName = docqueue.DefaultQueueName
	}
	queue, err := docqueue.NewQueue(ctx, config.QueueConfig{
		Type: "postgres",
		DSN:  dsn,
		Name: queueName,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = queue.Close() }()

	logger, err := log.NewLogger(nil)
	if err != nil {
		return nil, err
	}
	reporter := health.NewReporter(
		map[string]docqueue.Queue{queueName: queue},
		nil,
		config.HealthConfig{},
		logger,
	)
	h := reporter.CheckHealth(ctx)
	report := reporter.GetStats(ctx)
	return &statsReport{Health: h, Stats: &report}, nil
}

// fetchStats 优先走 API，失败则直连队列
func fetchStats(ctx context.Context) (*statsReport, error) {
	out, err := fetchStatsHTTP()
	if err == nil {
		return out, nil
	}
	direct, errDirect := fetchStatsDirect(ctx)
	if errDirect != nil {
		return nil, fmt.Errorf("API: %v; 直连: %v", err, errDirect)
	}
	return direct, nil
}
