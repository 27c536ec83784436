package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailq/backend/internal/cache"
	"mailq/backend/internal/domain"
	"mailq/backend/internal/logger"
	"mailq/backend/internal/monitoring"
	"mailq/backend/internal/postfix"
	"mailq/backend/internal/selector"
	"mailq/backend/internal/storage"
	"mailq/backend/internal/storage/memory"
	"mailq/backend/internal/websocket"

	"go.uber.org/zap"
)

// 加载方式
const (
	MethodPostqueue = "postqueue"
	MethodSpool     = "spool"
	MethodFile      = "file"
)

// ContentParser 解析单封邮件的内容
type ContentParser interface {
	Parse(ctx context.Context, msg *domain.Message) error
}

// Operator 对一批邮件执行管理操作
type Operator interface {
	Operate(ctx context.Context, op domain.Operation, messages []*domain.Message) ([]string, error)
}

// EventPublisher 推送队列事件
type EventPublisher interface {
	Publish(eventType websocket.EventType, payload interface{})
}

// Options QueueService 的依赖
type Options struct {
	Lister   storage.QueueLoader
	Spool    storage.QueueLoader
	Reader   ContentParser
	Operator Operator

	DumpCache *cache.LocalCache[domain.MessageDump]
	Metrics   *monitoring.Metrics
	Events    EventPublisher
	Logger    *zap.Logger
}

// LoadRequest 描述一次队列加载
type LoadRequest struct {
	Method   string `json:"method"`
	Filename string `json:"filename"`
}

// QueueService 串联存储、筛选、内容解析与批量操作。
//
// 所有方法在同一把锁下执行，HTTP 并发请求看到的仍是单线程模型。
type QueueService struct {
	mu sync.Mutex

	store    *memory.Store
	selector *selector.Selector
	opts     Options
	lastLoad LoadRequest
	now      func() time.Time
	logger   *zap.Logger
}

// NewQueueService 创建队列服务
func NewQueueService(opts Options) *QueueService {
	store := memory.NewStore()
	log := logger.OrNop(opts.Logger)
	return &QueueService{
		store:    store,
		selector: selector.New(store, log),
		opts:     opts,
		lastLoad: LoadRequest{Method: MethodPostqueue},
		now:      time.Now,
		logger:   log,
	}
}

// WithClock 替换筛选使用的当前时间
func (s *QueueService) WithClock(now func() time.Time) *QueueService {
	s.now = now
	s.selector.WithClock(now)
	return s
}

// Load 加载队列快照。
//
// 没有筛选条件时重置选择，否则在新数据上重放筛选条件。
func (s *QueueService) Load(ctx context.Context, req LoadRequest) (domain.QueueStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx, req); err != nil {
		return domain.QueueStatistics{}, err
	}
	return s.store.Statistics(), nil
}

// Refresh 使用上一次的加载方式重新加载
func (s *QueueService) Refresh(ctx context.Context) (domain.QueueStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx, s.lastLoad); err != nil {
		return domain.QueueStatistics{}, err
	}
	return s.store.Statistics(), nil
}

func (s *QueueService) loadLocked(ctx context.Context, req LoadRequest) error {
	loader, err := s.loader(req)
	if err != nil {
		return err
	}

	start := time.Now()
	n, err := s.store.Load(ctx, loader)
	duration := time.Since(start)
	if err != nil {
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordLoad(methodLabel(req), duration, nil, err)
		}
		s.logger.Error("Failed to load queue", zap.String("source", loader.Name()), zap.Error(err))
		return err
	}

	if s.opts.DumpCache != nil {
		s.opts.DumpCache.Clear()
	}
	if len(s.selector.Filters()) == 0 {
		s.selector.Reset()
	} else {
		s.selector.ReplayFilters()
	}
	s.lastLoad = req

	stats := s.store.Statistics()
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordLoad(methodLabel(req), duration, &stats, nil)
	}
	s.selectionChanged()
	s.publish(websocket.EventStoreLoaded, stats)

	s.logger.Info("Queue loaded",
		zap.String("source", loader.Name()),
		zap.Int("messages", n),
		zap.Int("selected", s.selector.Len()),
		zap.Duration("duration", duration))
	return nil
}

// loader 根据加载请求选择队列来源
func (s *QueueService) loader(req LoadRequest) (storage.QueueLoader, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = MethodPostqueue
		if req.Filename != "" {
			method = MethodFile
		}
	}

	switch method {
	case MethodPostqueue:
		if s.opts.Lister == nil {
			return nil, domain.InvalidArgument("load method %q is not configured", method)
		}
		return s.opts.Lister, nil
	case MethodSpool:
		if s.opts.Spool == nil {
			return nil, domain.InvalidArgument("load method %q is not configured", method)
		}
		return s.opts.Spool, nil
	case MethodFile:
		if strings.TrimSpace(req.Filename) == "" {
			return nil, domain.InvalidArgument("filename is required")
		}
		return postfix.NewSnapshotLoader(req.Filename), nil
	}
	return nil, domain.InvalidArgument("unknown load method %q", req.Method)
}

func methodLabel(req LoadRequest) string {
	if req.Method != "" {
		return strings.ToLower(req.Method)
	}
	if req.Filename != "" {
		return MethodFile
	}
	return MethodPostqueue
}

// Status 返回当前存储的统计信息
func (s *QueueService) Status() domain.QueueStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Statistics()
}

// Apply 在当前选择上应用筛选条件
func (s *QueueService) Apply(f selector.Filter) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Loaded() {
		return nil, domain.ErrStoreNotLoaded
	}
	messages, err := s.selector.Apply(f)
	if err != nil {
		return nil, err
	}
	s.selectionChanged()
	return messages, nil
}

// Filters 返回已应用的筛选条件
func (s *QueueService) Filters() []selector.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selector.Filters()
}

// RemoveFilter 删除一条筛选条件并重放
func (s *QueueService) RemoveFilter(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selector.RemoveFilter(index); err != nil {
		return err
	}
	s.selectionChanged()
	return nil
}

// Reset 清空筛选条件
func (s *QueueService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selector.Reset()
	s.selectionChanged()
}

// Replay 在存储的当前数据上重放筛选条件
func (s *QueueService) Replay() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.selector.ReplayFilters()
	s.selectionChanged()
	return messages
}

// ViewRequest 选择结果的展示方式
type ViewRequest struct {
	SortBy    selector.Field
	Ascending bool
	RankBy    selector.Field
	Limit     int
}

// FilterView 带序号的筛选条件
type FilterView struct {
	Index       int             `json:"index"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Filter      selector.Filter `json:"filter"`
}

// SelectionView 当前选择的展示结果
type SelectionView struct {
	Total    int                  `json:"total"`
	Filters  []FilterView         `json:"filters"`
	Messages []*domain.Message    `json:"messages,omitempty"`
	Ranking  []selector.RankEntry `json:"ranking,omitempty"`
	More     int                  `json:"more"`
}

// DescribeFilters 生成带序号的筛选条件列表
func DescribeFilters(filters []selector.Filter) []FilterView {
	views := make([]FilterView, 0, len(filters))
	for i, f := range filters {
		views = append(views, FilterView{Index: i, Kind: f.Kind(), Description: f.String(), Filter: f})
	}
	return views
}

// Selection 按排序或统计方式返回当前选择
func (s *QueueService) Selection(req ViewRequest) (*SelectionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Loaded() {
		return nil, domain.ErrStoreNotLoaded
	}
	if req.Limit < 0 {
		return nil, domain.InvalidArgument("limit must not be negative")
	}

	messages := s.selector.Messages()
	view := &SelectionView{
		Total:   len(messages),
		Filters: DescribeFilters(s.selector.Filters()),
	}

	if req.RankBy != "" {
		view.Ranking, view.More = selector.Limit(selector.Rank(messages, req.RankBy), req.Limit)
		return view, nil
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = selector.FieldDate
	}
	view.Messages, view.More = selector.Limit(selector.Sort(messages, sortBy, req.Ascending), req.Limit)
	return view, nil
}

// Inspect 解析邮件内容并返回导出结果，结果按队列 ID 缓存到下次加载
func (s *QueueService) Inspect(ctx context.Context, qid string) (domain.MessageDump, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !domain.IsQueueID(qid) {
		return domain.MessageDump{}, domain.InvalidArgument("invalid queue id %q", qid)
	}
	if !s.store.Loaded() {
		return domain.MessageDump{}, domain.ErrStoreNotLoaded
	}

	if s.opts.DumpCache != nil {
		if dump, ok := s.opts.DumpCache.Get(qid); ok {
			s.recordParse(true, nil)
			return dump, nil
		}
	}

	msg, err := s.store.Get(qid)
	if err != nil {
		return domain.MessageDump{}, err
	}

	if !msg.Parsed {
		if s.opts.Reader == nil {
			return domain.MessageDump{}, domain.InvalidArgument("content reader is not configured")
		}
		err := s.opts.Reader.Parse(ctx, msg)
		s.recordParse(false, err)
		if err != nil {
			return domain.MessageDump{}, err
		}
	}

	dump := msg.Dump()
	if s.opts.DumpCache != nil {
		s.opts.DumpCache.Set(qid, dump, 0)
	}
	return dump, nil
}

// Operate 对当前选择执行管理操作。
//
// 只要命令被执行过，无论成功与否都会重新加载队列并重放筛选条件；
// 重新加载失败时错误与操作错误合并返回。
func (s *QueueService) Operate(ctx context.Context, op domain.Operation) (*domain.OperationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Loaded() {
		return nil, domain.ErrStoreNotLoaded
	}
	return s.operateLocked(ctx, op, s.selector.Messages())
}

// OperateOn 在当前存储上按 filters 重新筛选，对结果执行管理操作。
//
// 目标由调用方给出的条件决定，不读取也不修改共享的选择；filters 为空时作用于全部邮件。
// 任一条件无效时不执行命令。
func (s *QueueService) OperateOn(ctx context.Context, op domain.Operation, filters []selector.Filter) (*domain.OperationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Loaded() {
		return nil, domain.ErrStoreNotLoaded
	}

	target := selector.New(s.store, s.logger).WithClock(s.now)
	for _, f := range filters {
		if _, err := target.Apply(f); err != nil {
			return nil, err
		}
	}
	return s.operateLocked(ctx, op, target.Messages())
}

func (s *QueueService) operateLocked(ctx context.Context, op domain.Operation, messages []*domain.Message) (*domain.OperationResult, error) {
	if s.opts.Operator == nil {
		return nil, domain.InvalidArgument("operator is not configured")
	}

	defer logger.Timed(s.logger, "operate", zap.String("operation", string(op)))()

	output, err := s.opts.Operator.Operate(ctx, op, messages)
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordOperation(op, len(messages), err)
	}
	if errors.Is(err, domain.ErrInvalidArgument) {
		return nil, err
	}

	result := &domain.OperationResult{
		Operation: op,
		Count:     len(messages),
		Output:    output,
	}
	if output == nil {
		result.Output = make([]string, 0)
	}
	if len(output) > 0 {
		result.Summary = output[len(output)-1]
	}

	if err != nil {
		s.logger.Error("Queue operation failed",
			zap.String("operation", string(op)),
			zap.Int("messages", len(messages)),
			zap.Error(err))
	} else {
		s.logger.Info("Queue operation applied",
			zap.String("operation", string(op)),
			zap.Int("messages", len(messages)),
			zap.String("summary", result.Summary))
	}

	if reloadErr := s.loadLocked(ctx, s.lastLoad); reloadErr != nil {
		err = errors.Join(err, fmt.Errorf("reload after %s: %w", op, reloadErr))
	}

	s.publish(websocket.EventOperationApplied, result)
	return result, err
}

func (s *QueueService) recordParse(cached bool, err error) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordParse(cached, err)
	}
}

// selectionChanged 更新筛选指标并推送事件
func (s *QueueService) selectionChanged() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.UpdateSelection(s.selector.Len(), len(s.selector.Filters()))
	}
	s.publish(websocket.EventSelectionChanged, map[string]int{
		"selected": s.selector.Len(),
		"filters":  len(s.selector.Filters()),
	})
}

func (s *QueueService) publish(eventType websocket.EventType, payload interface{}) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(eventType, payload)
	}
}
