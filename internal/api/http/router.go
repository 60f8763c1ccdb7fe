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
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"vault-pipeline/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwtAuth    *jwt.HertzJWTMiddleware
	corsOrigin string
	rateRPS    int
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{
		handler:    handler,
		middleware: mw,
	}
}

// SetJWT 启用 JWT 认证；未启用时文档路由不做属主校验（仅开发环境）
func (r *Router) SetJWT(auth *jwt.HertzJWTMiddleware) {
	r.jwtAuth = auth
}

// SetCORSOrigin 设置允许的跨域来源
func (r *Router) SetCORSOrigin(origin string) {
	r.corsOrigin = origin
}

// SetRateLimit 设置全局限流（每秒请求数）
func (r *Router) SetRateLimit(rps int) {
	r.rateRPS = rps
}

// Build 创建 Hertz Server 并挂载全部路由
func (r *Router) Build(addr string, opts ...hertzconfig.Option) *server.Hertz {
	options := append([]hertzconfig.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(options...)
	r.Apply(h)
	return h
}

// Apply 在现有 Server 上挂载中间件与路由（测试直接复用）
func (r *Router) Apply(h *server.Hertz) {
	h.Use(r.middleware.AccessLog())
	h.Use(r.middleware.CORS(r.corsOrigin))
	h.Use(r.middleware.RateLimit(r.rateRPS))

	// 无认证面：健康检查与指标
	h.GET("/api/health", r.handler.HealthCheck)
	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api/vault")
	if r.jwtAuth != nil {
		api.Use(r.jwtAuth.MiddlewareFunc())
		api.Use(middleware.RequireOwner())
	}

	documents := api.Group("/documents")
	{
		documents.POST("", r.handler.RequestUpload)
		documents.GET("/:id", r.handler.GetStatus)
		documents.POST("/:id/complete", r.handler.CompleteUpload)
		documents.POST("/:id/reprocess", r.handler.Reprocess)
	}

	queues := api.Group("/queues")
	{
		queues.GET("/stats", r.handler.QueueStats)
	}
}
