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

// Package api 装配 API 应用：存储、队列、入库服务与 HTTP 路由
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	vaulthttp "vault-pipeline/internal/api/http"
	"vault-pipeline/internal/api/http/middleware"
	"vault-pipeline/internal/app/vault"
	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/health"
	"vault-pipeline/internal/storage/cache"
	"vault-pipeline/internal/storage/object"
	"vault-pipeline/internal/storage/record"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
	"vault-pipeline/pkg/secrets"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（控制面：接收上传、查询状态、暴露队列统计；处理由 Worker 执行）
type App struct {
	config       *config.Config
	logger       *log.Logger
	records      record.Store
	objects      object.Store
	cacheStore   cache.Store
	queue        docqueue.Queue
	router       *vaulthttp.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	ctx := context.Background()

	records, err := record.NewStore(ctx, cfg.Storage.Record)
	if err != nil {
		return nil, fmt.Errorf("初始化文档记录存储失败: %w", err)
	}
	objects, err := object.NewStore(ctx, cfg.Storage.Object)
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}
	queue, err := docqueue.NewQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("初始化任务队列失败: %w", err)
	}

	// 统计缓存可选；缓存不可用不阻塞 API 启动，Reporter 会退化为直查
	var cacheStore cache.Store
	if cfg.Storage.Cache.Type != "" {
		cs, errCache := cache.NewStore(cfg.Storage.Cache)
		if errCache != nil {
			logger.Warn("统计缓存初始化失败，统计将直查队列", "error", errCache)
		} else {
			cacheStore = cs
		}
	}

	reporter := health.NewReporter(
		map[string]docqueue.Queue{queueName(cfg): queue},
		cacheStore,
		cfg.Health,
		logger,
	)

	svc := vault.NewService(records, objects, queue, reporter, cfg.Upload, cfg.Storage.Object, logger)
	handler := vaulthttp.NewHandler(svc, logger)
	mw := middleware.NewMiddleware(logger)
	router := vaulthttp.NewRouter(handler, mw)

	if cfg.API.CORS.Enable && len(cfg.API.CORS.AllowOrigins) > 0 {
		router.SetCORSOrigin(cfg.API.CORS.AllowOrigins[0])
	}
	if cfg.API.Middleware.RateLimit && cfg.API.Middleware.RateLimitRPS > 0 {
		router.SetRateLimit(cfg.API.Middleware.RateLimitRPS)
	}

	if cfg.API.Middleware.Auth {
		key, errKey := resolveJWTKey(ctx, cfg)
		if errKey != nil {
			return nil, fmt.Errorf("解析 JWT 密钥失败: %w", errKey)
		}
		timeout := parseDuration(cfg.API.Middleware.JWTTimeout, time.Hour)
		maxRefresh := parseDuration(cfg.API.Middleware.JWTMaxRefresh, time.Hour)
		jwtAuth, errJWT := middleware.NewJWTAuth(key, timeout, maxRefresh)
		if errJWT != nil {
			return nil, fmt.Errorf("初始化 JWT 认证失败: %w", errJWT)
		}
		router.SetJWT(jwtAuth)
		logger.Info("JWT 认证已启用")
	} else {
		logger.Warn("JWT 认证未启用，文档路由不做属主校验（仅限开发环境）")
	}

	return &App{
		config:     cfg,
		logger:     logger,
		records:    records,
		objects:    objects,
		cacheStore: cacheStore,
		queue:      queue,
		router:     router,
	}, nil
}

// resolveJWTKey 解析 JWT 密钥；支持 "env:KEY" / "vault:path" 引用间接取值
func resolveJWTKey(ctx context.Context, cfg *config.Config) ([]byte, error) {
	ref := cfg.API.Middleware.JWTKey
	if ref == "" {
		return nil, fmt.Errorf("启用认证时必须配置 api.middleware.jwt_key")
	}
	store, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Address:  cfg.Secrets.Address,
		Token:    cfg.Secrets.Token,
		Prefix:   cfg.Secrets.Prefix,
	})
	if err != nil {
		return nil, err
	}
	key, err := secrets.Resolve(ctx, store, ref)
	if err != nil {
		return nil, err
	}
	return []byte(key), nil
}

func queueName(cfg *config.Config) string {
	if cfg.Queue.Name != "" {
		return cfg.Queue.Name
	}
	return docqueue.DefaultQueueName
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.logger.Info("API 服务启动", "addr", addr)

	// Hertz 框架日志走 slog 扩展，与应用日志配置对齐
	output := os.Stdout
	if a.config.Log.File != "" {
		f, err := os.OpenFile(a.config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	switch a.config.Log.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	// 可选：启用链路追踪（OpenTelemetry）
	if a.config.Monitoring.Tracing.Enable {
		serviceName := a.config.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "vault-api"
		}
		exportEndpoint := a.config.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if a.config.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			p := provider.NewOpenTelemetryProvider(opts...)
			a.otelProvider = p
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("关闭队列失败", "error", err)
	}
	if a.cacheStore != nil {
		_ = a.cacheStore.Close()
	}
	if err := a.records.Close(); err != nil {
		a.logger.Warn("关闭记录存储失败", "error", err)
	}
	if err := a.objects.Close(); err != nil {
		a.logger.Warn("关闭对象存储失败", "error", err)
	}
	return a.logger.Close()
}

// parseDuration 解析时长字符串，无效或空时返回 defaultVal
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
