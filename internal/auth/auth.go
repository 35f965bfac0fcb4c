// Package auth 提供可选的静态 Bearer 令牌校验。
// 令牌为空即视为关闭认证，所有请求直接放行。
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	loggerpkg "GraphChat/pkg/logger"
)

// Common errors returned by the authentication guard.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Guard 校验请求头中的 Bearer 令牌。
type Guard struct {
	token string
	audit *slog.Logger
}

// GuardOption 调整 Guard 的可选行为。
type GuardOption func(*Guard)

// WithAuditLogger 覆盖默认的审计日志器。
func WithAuditLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.audit = logger
		}
	}
}

// NewGuard 创建令牌守卫。token 为空时守卫处于关闭状态。
func NewGuard(token string, opts ...GuardOption) *Guard {
	g := &Guard{token: strings.TrimSpace(token)}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Enabled 返回认证是否开启。
func (g *Guard) Enabled() bool {
	return g != nil && g.token != ""
}

// Authenticate 校验 Authorization 头。
func (g *Guard) Authenticate(authorization string) error {
	if !g.Enabled() {
		return nil
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware 返回一个 HTTP 中间件，拒绝未携带有效令牌的请求。
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := g.Authenticate(r.Header.Get("Authorization")); err != nil {
			status := http.StatusUnauthorized
			http.Error(w, http.StatusText(status), status)
			logger := g.audit
			if logger == nil {
				logger = loggerpkg.Audit()
			}
			logger.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
				"error", err.Error(),
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}
