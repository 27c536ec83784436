package selector

import (
	"fmt"
	"strings"
	"time"

	"mailq/backend/internal/domain"
)

// Filter 是一条已应用的筛选条件，ReplayFilters 按记录顺序重新执行。
type Filter interface {
	// Kind 返回筛选类型：status、sender、error、date、size
	Kind() string
	String() string
	filter()
}

// StatusFilter 按队列状态筛选
type StatusFilter struct {
	Statuses []domain.MessageStatus `json:"statuses"`
}

// SenderFilter 按发件人筛选，Partial 为 true 时按子串匹配
type SenderFilter struct {
	Sender  string `json:"sender"`
	Partial bool   `json:"partial"`
}

// ErrorFilter 按投递错误说明中的子串筛选
type ErrorFilter struct {
	Substring string `json:"substring"`
}

// DateFilter 按接收时间筛选，区间两端都包含。
//
// Start 为空表示 Unix 纪元，Stop 为空表示应用时的当前时间。
type DateFilter struct {
	Start *time.Time `json:"start,omitempty"`
	Stop  *time.Time `json:"stop,omitempty"`
}

// SizeFilter 按大小筛选，Max 为 0 表示没有上限，两者都为 0 时不过滤。
type SizeFilter struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

func (StatusFilter) filter() {}
func (SenderFilter) filter() {}
func (ErrorFilter) filter()  {}
func (DateFilter) filter()   {}
func (SizeFilter) filter()   {}

func (StatusFilter) Kind() string { return "status" }
func (SenderFilter) Kind() string { return "sender" }
func (ErrorFilter) Kind() string  { return "error" }
func (DateFilter) Kind() string   { return "date" }
func (SizeFilter) Kind() string   { return "size" }

func (f StatusFilter) String() string {
	names := make([]string, 0, len(f.Statuses))
	for _, status := range f.Statuses {
		names = append(names, string(status))
	}
	return "select status: statuses=" + strings.Join(names, ",")
}

func (f SenderFilter) String() string {
	return fmt.Sprintf("select sender: sender=%s partial=%t", f.Sender, f.Partial)
}

func (f ErrorFilter) String() string {
	return fmt.Sprintf("select error: substring=%s", f.Substring)
}

func (f DateFilter) String() string {
	start, stop := "epoch", "now"
	if f.Start != nil {
		start = f.Start.Format(time.RFC3339)
	}
	if f.Stop != nil {
		stop = f.Stop.Format(time.RFC3339)
	}
	return fmt.Sprintf("select date: start=%s stop=%s", start, stop)
}

func (f SizeFilter) String() string {
	return fmt.Sprintf("select size: min=%d max=%d", f.Min, f.Max)
}

// Validate 检查筛选参数
func Validate(f Filter) error {
	switch f := f.(type) {
	case StatusFilter:
		if len(f.Statuses) == 0 {
			return domain.InvalidArgument("at least one status is required")
		}
		for _, status := range f.Statuses {
			if _, err := domain.ParseStatus(string(status)); err != nil {
				return err
			}
		}
	case SenderFilter, ErrorFilter:
	case DateFilter:
		if f.Start == nil && f.Stop == nil {
			return domain.InvalidArgument("date filter needs a start or a stop")
		}
		if f.Start != nil && f.Stop != nil && f.Start.After(*f.Stop) {
			return domain.InvalidArgument("date filter start is after stop")
		}
	case SizeFilter:
		if f.Min < 0 || f.Max < 0 {
			return domain.InvalidArgument("size bounds must not be negative")
		}
		if f.Max != 0 && f.Min > f.Max {
			return domain.InvalidArgument("minimum size %d is greater than maximum size %d", f.Min, f.Max)
		}
	case nil:
		return domain.InvalidArgument("missing filter")
	default:
		return domain.InvalidArgument("unsupported filter %T", f)
	}
	return nil
}

// cloneFilter 复制筛选条件中的切片和时间指针，历史记录不与调用方共享
func cloneFilter(f Filter) Filter {
	switch f := f.(type) {
	case StatusFilter:
		return StatusFilter{Statuses: append([]domain.MessageStatus{}, f.Statuses...)}
	case DateFilter:
		return DateFilter{Start: copyTime(f.Start), Stop: copyTime(f.Stop)}
	}
	return f
}

// applyFilter 返回 messages 中满足 f 的邮件，f 必须已通过 Validate
func applyFilter(f Filter, messages []*domain.Message, now time.Time) []*domain.Message {
	switch f := f.(type) {
	case StatusFilter:
		return keep(messages, func(m *domain.Message) bool {
			for _, status := range f.Statuses {
				if m.Status == status {
					return true
				}
			}
			return false
		})

	case SenderFilter:
		return keep(messages, func(m *domain.Message) bool {
			if f.Partial {
				return strings.Contains(m.Sender, f.Sender)
			}
			return m.Sender == f.Sender
		})

	case ErrorFilter:
		return keep(messages, func(m *domain.Message) bool {
			for _, text := range m.Errors {
				if strings.Contains(text, f.Substring) {
					return true
				}
			}
			return false
		})

	case DateFilter:
		start := time.Unix(0, 0)
		stop := now
		if f.Start != nil {
			start = *f.Start
		}
		if f.Stop != nil {
			stop = *f.Stop
		}
		return keep(messages, func(m *domain.Message) bool {
			return !m.AcceptedAt.Before(start) && !m.AcceptedAt.After(stop)
		})

	case SizeFilter:
		if f.Min == 0 && f.Max == 0 {
			return append([]*domain.Message{}, messages...)
		}
		return keep(messages, func(m *domain.Message) bool {
			if m.Size < f.Min {
				return false
			}
			return f.Max == 0 || m.Size <= f.Max
		})
	}
	return append([]*domain.Message{}, messages...)
}

func keep(messages []*domain.Message, match func(*domain.Message) bool) []*domain.Message {
	result := make([]*domain.Message, 0, len(messages))
	for _, msg := range messages {
		if match(msg) {
			result = append(result, msg)
		}
	}
	return result
}
