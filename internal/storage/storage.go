package storage

import (
	"context"

	"mailq/backend/internal/domain"
)

// QueueLoader 定义队列数据的加载来源。
//
// 每次调用 Load 都返回一份完整的队列快照，调用方负责整体替换旧数据。
type QueueLoader interface {
	Load(ctx context.Context) ([]*domain.Message, error)
	// Name 返回加载方式名称（postqueue、spool、snapshot 文件名），用于日志与状态展示
	Name() string
}

// MessageSource 提供当前已加载的邮件列表。
type MessageSource interface {
	Messages() []*domain.Message
}

// LoaderFunc 将普通函数适配为 QueueLoader
type LoaderFunc struct {
	LoaderName string
	Fn         func(ctx context.Context) ([]*domain.Message, error)
}

// Load 实现 QueueLoader
func (f LoaderFunc) Load(ctx context.Context) ([]*domain.Message, error) {
	return f.Fn(ctx)
}

// Name 实现 QueueLoader
func (f LoaderFunc) Name() string {
	return f.LoaderName
}
