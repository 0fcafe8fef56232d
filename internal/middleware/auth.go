package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bridgeplate/internal/utils"
)

// TokenValidator 令牌校验
type TokenValidator interface {
	ValidateToken(token string) (*utils.JWTClaims, error)
}

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware 创建认证中间件；validator为nil时不做认证
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
	}
}

// Enabled 是否启用认证
func (m *AuthMiddleware) Enabled() bool {
	return m.validator != nil
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return m.RequireRole()
}

// RequireRole 需要特定角色的中间件，roles为空时只要求令牌有效
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.validator == nil {
			c.Next()
			return
		}

		token := m.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "NO_TOKEN",
				"message": "缺少认证令牌",
			})
			c.Abort()
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "INVALID_TOKEN",
				"message": "无效的令牌",
				"details": err.Error(),
			})
			c.Abort()
			return
		}

		if len(roles) > 0 && !containsRole(roles, claims.Role) {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    "INSUFFICIENT_PERMISSION",
				"message": "权限不足",
			})
			c.Abort()
			return
		}

		// 将客户端信息存入上下文
		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Set("tokenID", claims.ID)

		c.Next()
	}
}

// extractToken 从请求中提取令牌
func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	// 1. 从Authorization Header获取 (Bearer Token)
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. 从X-Access-Token Header获取
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. 从Query参数获取（浏览器WebSocket无法设置Header）
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetSubject 从上下文获取客户端标识
func GetSubject(c *gin.Context) (string, bool) {
	if subject, exists := c.Get("subject"); exists {
		if s, ok := subject.(string); ok {
			return s, true
		}
	}
	return "", false
}

// GetRole 从上下文获取客户端角色
func GetRole(c *gin.Context) (string, bool) {
	if role, exists := c.Get("role"); exists {
		if r, ok := role.(string); ok {
			return r, true
		}
	}
	return "", false
}
