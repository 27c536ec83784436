package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailq/backend/internal/config"
	"mailq/backend/internal/health"
	"mailq/backend/internal/logger"
	"mailq/backend/internal/middleware"
	"mailq/backend/internal/monitoring"
	"mailq/backend/internal/service"
	"mailq/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	Queue        *service.QueueService
	Metrics      *monitoring.Metrics
	Alerts       *monitoring.AlertManager // 可选
	Health       *health.HealthChecker    // 可选
	WebSocketHub *websocket.Hub           // 可选
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := logger.OrNop(deps.Logger)
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics(nil)
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	queueHandler := NewQueueHandler(deps.Queue, deps.Config.Server.SnapshotDir, log)
	adminHandler := NewAdminHandler(deps.Queue, deps.Alerts, log)

	adminAuth := middleware.NewAdminKeyAuth(deps.Config.Auth.AdminKeyHash, log)
	adminLimit := middleware.NewRateLimiter("admin", deps.Config.Auth.AdminRate, deps.Config.Auth.AdminBurst, metrics)

	// 监控与健康检查
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))
	if deps.Health != nil {
		router.GET("/health", gin.WrapH(deps.Health.Handler()))
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	// 队列事件推送，配置了管理密钥时需要认证
	if deps.WebSocketHub != nil {
		if adminAuth.Enabled() {
			deps.WebSocketHub.Authorize = adminAuth.Authorize
		}
		router.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/store", queueHandler.getStore)
		v1.GET("/selection", queueHandler.getSelection)
		v1.GET("/selection/filters", queueHandler.listFilters)
		v1.GET("/messages/:qid", queueHandler.getMessage)
		v1.GET("/alerts", adminHandler.listAlerts)

		// 加载队列与修改选择会改变管理操作的目标，需要管理密钥
		managed := v1.Group("")
		managed.Use(adminAuth.RequireAdminKey())
		{
			managed.POST("/store/load", queueHandler.loadStore)
			managed.POST("/selection/filters", queueHandler.addFilter)
			managed.DELETE("/selection/filters/:index", queueHandler.removeFilter)
			managed.POST("/selection/reset", queueHandler.resetSelection)
			managed.POST("/selection/replay", queueHandler.replaySelection)
		}

		// 管理操作：先限流再认证
		admin := v1.Group("/admin")
		admin.Use(adminLimit.Middleware(), adminAuth.RequireAdminKey())
		{
			admin.POST("/:operation", adminHandler.operate)
		}
	}

	return router
}
