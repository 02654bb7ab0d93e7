package chatserver

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"donor-finder/internal/config"
	"donor-finder/internal/middleware"
	ws "donor-finder/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
type WebSocketHandler struct {
	registry       *ws.Registry
	authn          *middleware.Authenticator
	wsCfg          config.WebSocketConfig
	allowedOrigins []string
	logger         *zap.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(registry *ws.Registry, authn *middleware.Authenticator, wsCfg config.WebSocketConfig, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry:       registry,
		authn:          authn,
		wsCfg:          wsCfg,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// ServeWS 校验令牌后把 HTTP 连接升级为 WebSocket。
// 令牌取自 token 查询参数，其次是 Authorization 头部。匿名连接被拒绝。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}

	claims, err := h.authn.ClaimsFromToken(r.Context(), token)
	if err != nil {
		h.logger.Info("WebSocket 连接尝试失败：令牌无效", zap.Error(err))
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}

	ws.ServeClient(h.registry, claims.UserID, w, r, h.wsCfg, h.checkOrigin, h.logger)
}

// checkOrigin 允许没有 Origin 头的非浏览器客户端，以及 CORS 白名单中的来源。
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// same host is always fine
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return false
}
