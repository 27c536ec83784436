package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/storage"
)

// Store 在内存中保存最近一次加载的队列快照。
//
// 加载是整体替换：加载失败时旧数据保持不变。
type Store struct {
	mu       sync.RWMutex
	messages []*domain.Message
	byID     map[string]*domain.Message
	loadedAt time.Time
	source   string
}

// NewStore 创建一个空的内存存储。
func NewStore() *Store {
	return &Store{
		messages: make([]*domain.Message, 0),
		byID:     make(map[string]*domain.Message),
	}
}

// Load 通过 loader 获取新的队列快照并替换当前数据，返回加载的邮件数量。
func (s *Store) Load(ctx context.Context, loader storage.QueueLoader) (int, error) {
	messages, err := loader.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue via %s: %w", loader.Name(), err)
	}
	s.Replace(messages, loader.Name())
	return len(messages), nil
}

// Replace 直接替换当前数据。
func (s *Store) Replace(messages []*domain.Message, source string) {
	list := make([]*domain.Message, 0, len(messages))
	index := make(map[string]*domain.Message, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		list = append(list, msg)
		index[msg.QueueID()] = msg
	}

	s.mu.Lock()
	s.messages = list
	s.byID = index
	s.loadedAt = time.Now()
	s.source = source
	s.mu.Unlock()
}

// Messages 返回邮件列表的副本，邮件本身共享。
func (s *Store) Messages() []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Message, len(s.messages))
	copy(result, s.messages)
	return result
}

// Get 按队列 ID 查找邮件
func (s *Store) Get(qid string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[qid]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return msg, nil
}

// Len 返回邮件数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// LoadedAt 返回最近一次成功加载的时间，从未加载时为零值。
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Loaded 是否至少成功加载过一次
func (s *Store) Loaded() bool {
	return !s.LoadedAt().IsZero()
}

// Statistics 汇总当前队列状态
func (s *Store) Statistics() domain.QueueStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.CountMessages(s.messages)
	stats.Source = s.source
	if !s.loadedAt.IsZero() {
		loadedAt := s.loadedAt
		stats.Loaded = true
		stats.LoadedAt = &loadedAt
	}
	return stats
}
