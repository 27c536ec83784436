package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 协程池
//
// 限制同时运行的外部命令数量，例如按 spool 文件逐个调用 postcat。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数，小于 1 时按 1 处理
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		logger:     log,
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 队列已满时阻塞，ctx 取消后返回 ctx.Err()
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 停止接收任务并等待已提交的任务完成
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// RunAll 用 workers 个协程执行全部任务并等待结束。
//
// ctx 取消后未开始的任务不再执行，返回 ctx.Err()。
func RunAll(ctx context.Context, workers int, tasks []func(), log *zap.Logger) error {
	p := NewWorkerPool(workers, len(tasks), log)
	p.Start(ctx)

	var err error
	for _, task := range tasks {
		if err = p.Submit(ctx, task); err != nil {
			break
		}
	}
	p.Stop()

	if err != nil {
		return err
	}
	return ctx.Err()
}
