package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailq/backend/internal/logger"
	"mailq/backend/internal/monitoring"
)

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics, log *zap.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		logger:  logger.OrNop(log),
	}
}

// HTTPMetrics HTTP 指标中间件
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		mm.metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}

// PanicRecovery Panic 恢复中间件，同时记录 panic 指标
func (mm *MonitoringMiddleware) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				mm.metrics.RecordPanic()

				mm.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
					zap.Stack("stack"),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code": http.StatusInternalServerError,
					"msg":  "服务器内部错误",
				})
			}
		}()

		c.Next()
	}
}
