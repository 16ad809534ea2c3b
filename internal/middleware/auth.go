package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig 令牌校验参数
type AuthConfig struct {
	Secret string
	Issuer string // 为空时不校验签发方
}

// Claims 访问令牌载荷，只取用户与权限
type Claims struct {
	UserID      string   `json:"uid"`
	Name        string   `json:"name"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// JWTAuth 校验 HS256 访问令牌，并把用户与权限写入上下文
func JWTAuth(cfg AuthConfig) gin.HandlerFunc {
	key := []byte(cfg.Secret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return key, nil }

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}

		claims := &Claims{}
		if _, err := jwt.ParseWithClaims(raw, claims, keyFunc, opts...); err != nil {
			abort(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		userID := claims.UserID
		if userID == "" {
			userID = claims.Subject
		}
		if userID == "" {
			abort(c, http.StatusUnauthorized, 40103, "Token carries no user id")
			return
		}

		c.Set(CtxUserID, userID)
		c.Set(CtxUserName, claims.Name)
		c.Set(CtxPermissions, claims.Permissions)
		c.Next()
	}
}

// bearerToken 优先取 Authorization 头；EventSource 无法设置请求头，SSE 走 ?token=
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

func UserID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}

func UserName(c *gin.Context) string {
	return c.GetString(CtxUserName)
}

// HasPermission 当前用户是否拥有权限（"*" 表示全部）
func HasPermission(c *gin.Context, permission string) bool {
	for _, p := range c.GetStringSlice(CtxPermissions) {
		if p == permission || p == "*" {
			return true
		}
	}
	return false
}

// RequirePermission 缺少权限时返回 403
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, permission) {
			abort(c, http.StatusForbidden, 40302, "Permission denied: "+permission)
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}
