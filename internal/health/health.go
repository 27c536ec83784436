package health

import (
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// LoadTracker 提供最近一次成功加载的时间
type LoadTracker interface {
	LoadedAt() time.Time
}

// Options 健康检查参数
type Options struct {
	// Commands 需要能在 PATH 中找到的外部命令（取每个命令的第一个参数）
	Commands [][]string
	// MaxStoreAge 数据最长多久未刷新仍视为就绪，0 表示不检查
	MaxStoreAge time.Duration
	// MaxGoroutines 存活检查允许的最大协程数
	MaxGoroutines int
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  LoadTracker
	opts   Options
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store LoadTracker, opts Options, logger *zap.Logger) *HealthChecker {
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = 1000
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		opts:   opts,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(hc.opts.MaxGoroutines))

	hc.health.AddReadinessCheck("store_loaded", StoreLoadedCheck(hc.store))

	for _, command := range hc.opts.Commands {
		if len(command) == 0 {
			continue
		}
		hc.health.AddReadinessCheck("command_"+command[0], CommandCheck(command[0]))
	}

	if hc.opts.MaxStoreAge > 0 {
		hc.health.AddReadinessCheck("store_age", StoreAgeCheck(hc.store, hc.opts.MaxStoreAge))
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部就绪检查并返回每项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	record := func(name string, err error) {
		if err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
			return
		}
		results[name] = "OK"
	}

	record("store_loaded", StoreLoadedCheck(hc.store)())
	for _, command := range hc.opts.Commands {
		if len(command) > 0 {
			record("command_"+command[0], CommandCheck(command[0])())
		}
	}
	if hc.opts.MaxStoreAge > 0 {
		record("store_age", StoreAgeCheck(hc.store, hc.opts.MaxStoreAge)())
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}

// StoreLoadedCheck 队列是否至少加载过一次
func StoreLoadedCheck(store LoadTracker) healthcheck.Check {
	return func() error {
		if store.LoadedAt().IsZero() {
			return errors.New("queue has not been loaded yet")
		}
		return nil
	}
}

// StoreAgeCheck 队列数据是否在 maxAge 内刷新过
func StoreAgeCheck(store LoadTracker, maxAge time.Duration) healthcheck.Check {
	return func() error {
		loadedAt := store.LoadedAt()
		if loadedAt.IsZero() {
			return nil
		}
		if age := time.Since(loadedAt); age > maxAge {
			return fmt.Errorf("queue data is %s old", age.Round(time.Second))
		}
		return nil
	}
}

// CommandCheck 外部命令能否找到
func CommandCheck(name string) healthcheck.Check {
	return func() error {
		_, err := exec.LookPath(name)
		return err
	}
}
