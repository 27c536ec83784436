package selector

import (
	"time"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/logger"
	"mailq/backend/internal/storage"

	"go.uber.org/zap"
)

// Selector 在存储之上维护一个可逐步缩小的邮件子集和筛选历史。
//
// 子集是存储列表的副本（邮件对象共享），Selector 从不修改存储。
// Selector 不是并发安全的，由调用方串行使用。
type Selector struct {
	source   storage.MessageSource
	messages []*domain.Message
	filters  []Filter
	now      func() time.Time
	logger   *zap.Logger
}

// New 创建筛选器，初始子集为存储中的全部邮件
func New(source storage.MessageSource, log *zap.Logger) *Selector {
	s := &Selector{
		source:  source,
		filters: make([]Filter, 0),
		now:     time.Now,
		logger:  logger.OrNop(log),
	}
	s.messages = source.Messages()
	return s
}

// WithClock 替换当前时间来源
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Messages 返回当前子集的副本
func (s *Selector) Messages() []*domain.Message {
	return append([]*domain.Message{}, s.messages...)
}

// Len 返回当前子集大小
func (s *Selector) Len() int {
	return len(s.messages)
}

// Filters 返回已应用的筛选条件副本
func (s *Selector) Filters() []Filter {
	filters := make([]Filter, 0, len(s.filters))
	for _, f := range s.filters {
		filters = append(filters, cloneFilter(f))
	}
	return filters
}

// LookupStatus 保留状态属于 statuses 之一的邮件
func (s *Selector) LookupStatus(statuses ...domain.MessageStatus) ([]*domain.Message, error) {
	defer logger.Timed(s.logger, "lookup_status", zap.Any("statuses", statuses))()
	return s.Apply(StatusFilter{Statuses: append([]domain.MessageStatus{}, statuses...)})
}

// LookupSender 保留发件人等于 sender（partial 时为包含 sender）的邮件
func (s *Selector) LookupSender(sender string, partial bool) ([]*domain.Message, error) {
	defer logger.Timed(s.logger, "lookup_sender", zap.String("sender", sender), zap.Bool("partial", partial))()
	return s.Apply(SenderFilter{Sender: sender, Partial: partial})
}

// LookupError 保留任一错误说明包含 substring 的邮件
func (s *Selector) LookupError(substring string) ([]*domain.Message, error) {
	defer logger.Timed(s.logger, "lookup_error", zap.String("substring", substring))()
	return s.Apply(ErrorFilter{Substring: substring})
}

// LookupDate 保留接收时间在 [start, stop] 内的邮件
func (s *Selector) LookupDate(start, stop *time.Time) ([]*domain.Message, error) {
	defer logger.Timed(s.logger, "lookup_date", zap.Timep("start", start), zap.Timep("stop", stop))()
	return s.Apply(DateFilter{Start: copyTime(start), Stop: copyTime(stop)})
}

// LookupSize 保留大小在 [min, max] 内的邮件，max 为 0 表示没有上限
func (s *Selector) LookupSize(min, max int64) ([]*domain.Message, error) {
	defer logger.Timed(s.logger, "lookup_size", zap.Int64("min", min), zap.Int64("max", max))()
	return s.Apply(SizeFilter{Min: min, Max: max})
}

// Apply 在当前子集上应用筛选条件并记录到历史。
// 参数无效时子集与历史都不变。
func (s *Selector) Apply(f Filter) ([]*domain.Message, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	f = cloneFilter(f)
	s.messages = applyFilter(f, s.messages, s.now())
	s.filters = append(s.filters, f)
	return s.Messages(), nil
}

// Reset 恢复为存储中的全部邮件并清空筛选历史
func (s *Selector) Reset() {
	s.messages = s.source.Messages()
	s.filters = make([]Filter, 0)
	s.logger.Debug("Selection reset", zap.Int("messages", len(s.messages)))
}

// ReplayFilters 从存储重新取出全部邮件，按顺序重新应用筛选历史。
// 通常在存储重新加载之后调用。
func (s *Selector) ReplayFilters() []*domain.Message {
	defer logger.Timed(s.logger, "replay_filters", zap.Int("filters", len(s.filters)))()

	messages := s.source.Messages()
	now := s.now()
	for _, f := range s.filters {
		messages = applyFilter(f, messages, now)
	}
	s.messages = messages
	return s.Messages()
}

// RemoveFilter 删除第 index 条筛选条件（从 0 开始）并重放剩余条件
func (s *Selector) RemoveFilter(index int) error {
	if index < 0 || index >= len(s.filters) {
		return domain.InvalidArgument("filter index %d out of range (%d filters)", index, len(s.filters))
	}
	s.filters = append(s.filters[:index:index], s.filters[index+1:]...)
	s.ReplayFilters()
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}
