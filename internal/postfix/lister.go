package postfix

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/logger"

	"go.uber.org/zap"
)

// QueueLister 通过 postqueue -p 获取队列快照。
type QueueLister struct {
	Runner  *Runner
	Command []string
	Now     func() time.Time
	Logger  *zap.Logger
}

// NewQueueLister 创建队列列表加载器
func NewQueueLister(runner *Runner, command []string, log *zap.Logger) *QueueLister {
	return &QueueLister{
		Runner:  runner,
		Command: command,
		Now:     time.Now,
		Logger:  logger.OrNop(log),
	}
}

// Name 实现 storage.QueueLoader
func (l *QueueLister) Name() string {
	return "postqueue"
}

// Load 执行列表命令并解析输出。
//
// 输出按 "\n" 拆分后去掉首行标题和最后两行（统计行与末尾空行）。
func (l *QueueLister) Load(ctx context.Context) ([]*domain.Message, error) {
	defer logger.Timed(l.Logger, "load_postqueue", zap.Strings("command", l.Command))()

	output, err := l.Runner.Output(ctx, l.Command)
	if err != nil {
		return nil, err
	}

	lines := splitLines(string(output))
	if len(lines) < 3 {
		lines = nil
	} else {
		lines = lines[1 : len(lines)-2]
	}

	messages, err := ParseQueue(lines, l.now())
	if err != nil {
		return nil, err
	}
	l.Logger.Debug("Queue listing parsed", zap.Int("messages", len(messages)))
	return messages, nil
}

func (l *QueueLister) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

// SnapshotLoader 从保存下来的队列列表文件加载。
//
// 文件内容与 postqueue -p 的正文格式相同，不去掉首尾行。
type SnapshotLoader struct {
	Path string
	Now  func() time.Time
}

// NewSnapshotLoader 创建快照文件加载器
func NewSnapshotLoader(path string) *SnapshotLoader {
	return &SnapshotLoader{Path: path, Now: time.Now}
}

// Name 实现 storage.QueueLoader
func (s *SnapshotLoader) Name() string {
	return "file:" + s.Path
}

// Load 读取并解析快照文件
func (s *SnapshotLoader) Load(ctx context.Context) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, domain.InvalidArgument("read snapshot %s: %v", s.Path, err)
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	messages, err := ParseQueue(strings.Split(string(data), "\n"), now)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.Path, err)
	}
	return messages, nil
}
