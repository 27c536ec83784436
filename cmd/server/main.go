package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailq/backend/internal/config"
	"mailq/backend/internal/health"
	"mailq/backend/internal/logger"
	"mailq/backend/internal/monitoring"
	"mailq/backend/internal/service"
	httptransport "mailq/backend/internal/transport/http"
	"mailq/backend/internal/websocket"
)

// 告警规则检查间隔
const alertInterval = time.Minute

// main 启动队列管理 HTTP 服务。
func main() {
	configFile := flag.String("config", "", "配置文件路径（也可用 MAILQ_CONFIG 指定）")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(cfg.Log.Logger())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting mailq server",
		zap.String("address", cfg.Addr()),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("use_sudo", cfg.Postfix.UseSudo),
		zap.Duration("refresh_interval", cfg.Server.RefreshInterval),
	)

	metrics := monitoring.NewMetrics(nil)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	wsHub.OnClientsChanged = metrics.UpdateWebsocketClients

	queue, closeQueue := service.NewQueueServiceFromConfig(cfg, metrics, wsHub, log)
	defer closeQueue()

	healthChecker := health.NewHealthChecker(queue, health.Options{
		Commands:    [][]string{cfg.Commands.List, cfg.Commands.Dump, cfg.Commands.Hold},
		MaxStoreAge: cfg.Alert.MaxStoreAge,
	}, log)

	alertManager := monitoring.NewAlertManager(metrics, log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddReceiver(monitoring.AlertReceiverFunc(func(alert *monitoring.Alert) error {
		wsHub.Publish(websocket.EventAlert, alert)
		return nil
	}))
	alertManager.AddRule(monitoring.QueueSizeRule(queue.Status, cfg.Alert.MaxMessages))
	alertManager.AddRule(monitoring.DeferredRatioRule(queue.Status, cfg.Alert.MaxDeferredRatio))
	alertManager.AddRule(monitoring.StaleStoreRule(queue.Status, cfg.Alert.MaxStoreAge))

	if cfg.Auth.AdminKeyHash == "" {
		log.Warn("admin key hash not configured, admin endpoints are disabled")
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		Queue:        queue,
		Metrics:      metrics,
		Alerts:       alertManager,
		Health:       healthChecker,
		WebSocketHub: wsHub,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动时加载一次，失败不影响服务启动
	if _, err := queue.Load(ctx, service.LoadRequest{}); err != nil {
		log.Warn("initial queue load failed", zap.Error(err))
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时刷新队列 goroutine
	if cfg.Server.RefreshInterval > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cfg.Server.RefreshInterval)
			defer ticker.Stop()

			log.Info("starting queue refresh task", zap.Duration("interval", cfg.Server.RefreshInterval))

			for {
				select {
				case <-groupCtx.Done():
					log.Info("queue refresh task stopped")
					return nil
				case <-ticker.C:
					if _, err := queue.Refresh(groupCtx); err != nil {
						log.Error("failed to refresh queue", zap.Error(err))
					}
				}
			}
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 告警监控 goroutine
	group.Go(func() error {
		log.Info("starting alert monitoring", zap.Duration("interval", alertInterval))
		alertManager.StartMonitoring(groupCtx, alertInterval)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
