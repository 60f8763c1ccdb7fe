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
	"fmt"
	"os"
	"strconv"

	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/extraction"
	"vault-pipeline/internal/storage/object"
	"vault-pipeline/internal/storage/record"
	"vault-pipeline/internal/supervisor"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
	"vault-pipeline/pkg/redaction"
	"vault-pipeline/pkg/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App Worker 应用（装配队列、存储与处理循环）
type App struct {
	config  *config.Config
	logger  *log.Logger
	queue   docqueue.Queue
	records record.Store
	objects object.Store
	runner  *Runner
	tracer  *sdktrace.TracerProvider

	runCancel context.CancelFunc
	done      chan error
}

// NewApp 创建新的 Worker 应用
func NewApp(cfg *config.Config) (*App, error) {
	// 初始化日志；Supervisor 通过环境变量指定落盘路径
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	if path := os.Getenv(supervisor.EnvLogFile); path != "" {
		logCfg.File = path
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	if restarts, err := strconv.Atoi(os.Getenv(supervisor.EnvRestartCount)); err == nil && restarts > 0 {
		logger.Info("worker 由 supervisor 重启拉起", "restarts", restarts)
	}

	ctx := context.Background()

	// 初始化存储
	records, err := record.NewStore(ctx, cfg.Storage.Record)
	if err != nil {
		return nil, fmt.Errorf("初始化文档记录存储失败: %w", err)
	}
	objects, err := object.NewStore(ctx, cfg.Storage.Object)
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}

	// 初始化队列
	queue, err := docqueue.NewQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("初始化文档队列失败: %w", err)
	}

	// 可选：启用链路追踪（处理阶段打 span）
	var tracer *sdktrace.TracerProvider
	if cfg.Monitoring.Tracing.Enable {
		endpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint != "" {
			serviceName := cfg.Monitoring.Tracing.ServiceName
			if serviceName == "" {
				serviceName = "vault-worker"
			}
			tp, errTrace := tracing.InitTracer(tracing.OTelConfig{
				ServiceName:    serviceName,
				ExportEndpoint: endpoint,
				Insecure:       cfg.Monitoring.Tracing.Insecure,
			})
			if errTrace != nil {
				logger.Warn("链路追踪初始化失败", "error", errTrace)
			} else {
				tracer = tp
				logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint)
			}
		}
	}

	redactor := redaction.NewEngine(redaction.NewPolicy(cfg.Redaction.DisabledCategories))
	runner := NewRunner(
		DefaultWorkerID(),
		queue,
		records,
		objects,
		extraction.NewEngine(),
		redactor,
		cfg.Worker.Concurrency,
		logger,
	)

	return &App{
		config:  cfg,
		logger:  logger,
		queue:   queue,
		records: records,
		objects: objects,
		runner:  runner,
		tracer:  tracer,
		done:    make(chan error, 1),
	}, nil
}

// Start 启动应用
func (a *App) Start() error {
	a.logger.Info("启动 worker 应用")
	ctx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel
	go func() {
		a.done <- a.runner.Run(ctx)
	}()
	a.logger.Info("worker 应用启动成功")
	return nil
}

// Shutdown 优雅关闭：停止认领、等在途 Job 处理完、关存储
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("关闭 worker 应用")

	if a.runCancel != nil {
		a.runCancel()
	}
	select {
	case <-a.done:
	case <-ctx.Done():
		a.logger.Warn("等待在途任务超时", "error", ctx.Err())
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("关闭链路追踪失败", "error", err)
		}
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Error("关闭队列失败", "error", err)
	}
	if err := a.records.Close(); err != nil {
		a.logger.Error("关闭文档记录存储失败", "error", err)
	}
	if err := a.objects.Close(); err != nil {
		a.logger.Error("关闭对象存储失败", "error", err)
	}
	if err := a.logger.Close(); err != nil {
		return err
	}
	return nil
}
