package postfix

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/logger"
	"mailq/backend/internal/pool"

	"go.uber.org/zap"
)

// SpoolLoader 直接遍历 Postfix spool 目录加载队列，
// 每个文件用 postcat 读取内容。
type SpoolLoader struct {
	Path    string
	Reader  *ContentReader
	Workers int
	Logger  *zap.Logger
}

// NewSpoolLoader 创建 spool 目录加载器
func NewSpoolLoader(path string, reader *ContentReader, workers int, log *zap.Logger) *SpoolLoader {
	return &SpoolLoader{Path: path, Reader: reader, Workers: workers, Logger: logger.OrNop(log)}
}

// Name 实现 storage.QueueLoader
func (l *SpoolLoader) Name() string {
	return "spool"
}

type spoolEntry struct {
	msg *domain.Message
	err error
}

// Load 遍历 active、deferred、hold 目录，状态取自所在目录。
//
// 读取时已离开队列的邮件被跳过；内容解析失败的邮件保留并带上 ParseError。
func (l *SpoolLoader) Load(ctx context.Context) ([]*domain.Message, error) {
	defer logger.Timed(l.Logger, "load_spool", zap.String("path", l.Path))()

	entries := make([]*spoolEntry, 0)
	for _, status := range domain.AllStatuses() {
		ids, err := l.walk(filepath.Join(l.Path, string(status)))
		if err != nil {
			return nil, err
		}
		for _, qid := range ids {
			msg := domain.NewMessage(qid, 0, time.Time{}, "")
			msg.Status = status
			entries = append(entries, &spoolEntry{msg: msg})
		}
	}

	tasks := make([]func(), 0, len(entries))
	for _, entry := range entries {
		entry := entry
		tasks = append(tasks, func() {
			entry.err = l.Reader.Parse(ctx, entry.msg)
		})
	}
	if err := pool.RunAll(ctx, l.Workers, tasks, l.Logger); err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(entries))
	for _, entry := range entries {
		if entry.err == nil || errors.Is(entry.err, domain.ErrParse) {
			messages = append(messages, entry.msg)
			continue
		}

		if errors.Is(entry.err, ErrNotStarted) {
			return nil, entry.err
		}
		l.Logger.Info("Skipping message that left the queue",
			zap.String("qid", entry.msg.QueueID()),
			zap.Error(entry.err),
		)
	}

	return messages, nil
}

// walk 返回目录下（含子目录）所有以队列 ID 命名的文件名，按名称排序。
// 目录不存在时返回空列表。
func (l *SpoolLoader) walk(dir string) ([]string, error) {
	ids := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if domain.IsQueueID(d.Name()) {
			ids = append(ids, d.Name())
		}
		return nil
	})
	if err != nil {
		kind := domain.ErrExecution
		if errors.Is(err, fs.ErrPermission) {
			kind = domain.ErrAuthorization
		}
		return nil, &domain.CommandError{Kind: kind, Command: []string{"walk", dir}, Err: err}
	}
	sort.Strings(ids)
	return ids, nil
}
