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

package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"
)

const (
	identityKey = "owner_id"
	roleKey     = "role"

	// RoleAdmin 管理员角色：可见队列统计块
	RoleAdmin = "admin"
)

// OwnerID 从请求上下文取出 JWT 识别出的属主
func OwnerID(ctx *app.RequestContext) string {
	if v, ok := ctx.Get(identityKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IsAdmin JWT 角色是否为 admin
func IsAdmin(ctx *app.RequestContext) bool {
	if v, ok := ctx.Get(roleKey); ok {
		if s, ok := v.(string); ok {
			return s == RoleAdmin
		}
	}
	return false
}

// NewJWTAuth 创建 JWT 属主认证中间件。
// Token 携带 owner_id 与 role；上下游身份只信 Token，不信请求体
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "vault",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if claims, ok := data.(jwt.MapClaims); ok {
				return claims
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c context.Context, ctx *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(c, ctx)
			if role, ok := claims[roleKey].(string); ok {
				ctx.Set(roleKey, role)
			}
			return claims[identityKey]
		},
		Unauthorized: func(c context.Context, ctx *app.RequestContext, code int, message string) {
			ctx.JSON(code, map[string]string{
				"error": message,
			})
		},
		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}

// RequireOwner 确保 JWT 已识别出属主（置于受保护路由组之前）
func RequireOwner() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		if OwnerID(ctx) == "" {
			ctx.JSON(consts.StatusUnauthorized, map[string]string{
				"error": "authentication required",
			})
			ctx.Abort()
			return
		}
		ctx.Next(c)
	}
}
