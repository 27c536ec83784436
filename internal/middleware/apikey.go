package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailq/backend/internal/logger"
)

// APIKeyHeader 管理密钥请求头
const APIKeyHeader = "X-API-Key"

// AdminKeyAuth 管理密钥认证中间件，密钥以 bcrypt 哈希形式配置
type AdminKeyAuth struct {
	hash   []byte
	logger *zap.Logger
}

// NewAdminKeyAuth 创建管理密钥认证中间件，hash 为空时所有管理请求都被拒绝
func NewAdminKeyAuth(hash string, log *zap.Logger) *AdminKeyAuth {
	return &AdminKeyAuth{
		hash:   []byte(hash),
		logger: logger.OrNop(log),
	}
}

// Enabled 是否配置了管理密钥
func (a *AdminKeyAuth) Enabled() bool {
	return len(a.hash) > 0
}

// Verify 校验明文密钥
func (a *AdminKeyAuth) Verify(key string) bool {
	if !a.Enabled() || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(key)) == nil
}

// Authorize 从请求头或 api_key 查询参数中取出密钥并校验
func (a *AdminKeyAuth) Authorize(r *http.Request) bool {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}
	return a.Verify(key)
}

// RequireAdminKey 要求管理密钥
func (a *AdminKeyAuth) RequireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": http.StatusForbidden,
				"msg":  "管理接口未启用",
			})
			return
		}

		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "缺少管理密钥",
			})
			return
		}

		if !a.Verify(key) {
			a.logger.Warn("Invalid admin key", zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "管理密钥无效",
			})
			return
		}

		c.Next()
	}
}
