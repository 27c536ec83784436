package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit 请求体只包含筛选条件或文件路径
const DefaultBodyLimit = 64 * 1024

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code": http.StatusRequestEntityTooLarge,
				"msg":  fmt.Sprintf("请求体超过 %d 字节", maxBytes),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}
