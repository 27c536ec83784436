package service

import (
	"time"

	"go.uber.org/zap"

	"mailq/backend/internal/cache"
	"mailq/backend/internal/config"
	"mailq/backend/internal/domain"
	"mailq/backend/internal/monitoring"
	"mailq/backend/internal/postfix"
)

// Commands 将命令配置转换为 postfix 命令集合
func Commands(cfg *config.Config) postfix.Commands {
	return postfix.Commands{
		List:    cfg.Commands.List,
		Dump:    cfg.Commands.Dump,
		Hold:    cfg.Commands.Hold,
		Release: cfg.Commands.Release,
		Requeue: cfg.Commands.Requeue,
		Delete:  cfg.Commands.Delete,
	}
}

// NewQueueServiceFromConfig 根据配置组装队列服务。
//
// metrics 与 events 可以为 nil。返回的清理函数释放内容缓存。
func NewQueueServiceFromConfig(cfg *config.Config, metrics *monitoring.Metrics, events EventPublisher, log *zap.Logger) (*QueueService, func()) {
	runner := &postfix.Runner{Sudo: cfg.Sudo(), Logger: log}
	commands := Commands(cfg)

	reader := postfix.NewContentReader(runner, commands.Dump, log)
	dumps := cache.NewLocalCache[domain.MessageDump](cfg.Cache.MaxEntries, cfg.Cache.TTL)

	svc := NewQueueService(Options{
		Lister:    postfix.NewQueueLister(runner, commands.List, log),
		Spool:     postfix.NewSpoolLoader(cfg.Postfix.SpoolPath, reader, cfg.Postfix.SpoolWorkers, log),
		Reader:    reader,
		Operator:  postfix.NewBatcher(runner, commands, cfg.Postfix.AuthCheckDelay, log),
		DumpCache: dumps,
		Metrics:   metrics,
		Events:    events,
		Logger:    log,
	})
	return svc, dumps.Close
}

// LoadedAt 返回最近一次成功加载的时间，未加载时为零值
func (s *QueueService) LoadedAt() time.Time {
	return s.store.LoadedAt()
}
