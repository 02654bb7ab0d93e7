package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"donor-finder/internal/auth"
	"donor-finder/internal/config"
	"donor-finder/internal/models"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

const (
	// UserIDKey 是用于在上下文中存储用户ID的键。
	UserIDKey contextKey = "userID"
	// RoleKey 是用于在上下文中存储用户角色的键。
	RoleKey contextKey = "role"
	// ClaimsKey holds the full *auth.Claims, used by logout.
	ClaimsKey contextKey = "claims"
)

var errMissingToken = errors.New("请求未包含授权令牌")

// Authenticator validates bearer tokens against the JWT secret and the blacklist.
type Authenticator struct {
	authCfg   config.AuthConfig
	blacklist auth.TokenBlacklist
	logger    *zap.Logger
}

// NewAuthenticator creates an Authenticator. blacklist may be nil.
func NewAuthenticator(authCfg config.AuthConfig, blacklist auth.TokenBlacklist, logger *zap.Logger) *Authenticator {
	return &Authenticator{authCfg: authCfg, blacklist: blacklist, logger: logger}
}

// ClaimsFromToken validates a raw token string.
func (a *Authenticator) ClaimsFromToken(ctx context.Context, token string) (*auth.Claims, error) {
	return auth.ValidateToken(ctx, token, a.authCfg.JWTSecretKey, a.blacklist)
}

func (a *Authenticator) claimsFromRequest(r *http.Request) (*auth.Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingToken
	}
	headerParts := strings.Split(authHeader, " ")
	if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
		return nil, errors.New("授权头部格式无效，应为 Bearer {token}")
	}
	return a.ClaimsFromToken(r.Context(), headerParts[1])
}

// RequireAuth 拒绝没有有效令牌的请求，并将用户信息写入上下文。
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.claimsFromRequest(r)
		if err != nil {
			a.logger.Debug("认证失败", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSONError(w, "令牌无效或缺失", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// OptionalAuth attaches the caller's identity when a valid token is present and
// lets anonymous requests through unchanged.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.claimsFromRequest(r)
		if err == nil {
			r = r.WithContext(WithClaims(r.Context(), claims))
		} else if !errors.Is(err, errMissingToken) {
			a.logger.Debug("忽略无效的可选令牌", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission rejects callers whose role does not permit op. Must run after RequireAuth.
func RequirePermission(op models.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetRoleFromContext(r.Context())
			if !ok {
				writeJSONError(w, "未认证", http.StatusUnauthorized)
				return
			}
			if !role.Permits(op) {
				writeJSONError(w, "当前角色无权执行此操作", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims stores the caller identity on ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, RoleKey, claims.Role)
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetUserIDFromContext 从上下文中获取用户ID。
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok
}

// GetRoleFromContext 从上下文中获取用户角色。
func GetRoleFromContext(ctx context.Context) (models.Role, bool) {
	role, ok := ctx.Value(RoleKey).(models.Role)
	return role, ok
}

// GetClaimsFromContext 从上下文中获取完整的令牌声明。
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
