package selector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mailq/backend/internal/domain"
)

// Field 可用于排序和统计的邮件字段
type Field string

const (
	FieldQueueID Field = "qid"
	FieldDate    Field = "date"
	FieldSender  Field = "sender"
	FieldSize    Field = "size"
	FieldStatus  Field = "status"
)

// briefDateLayout 简要格式中的时间格式
const briefDateLayout = "2006-01-02 15:04:05"

// ParseField 解析字段名
func ParseField(value string) (Field, error) {
	field := Field(strings.ToLower(strings.TrimSpace(value)))
	switch field {
	case FieldQueueID, FieldDate, FieldSender, FieldSize, FieldStatus:
		return field, nil
	}
	return "", domain.InvalidArgument("unknown field %q (known: qid, date, sender, size, status)", value)
}

// Sort 返回按 field 排序后的副本，排序稳定
func Sort(messages []*domain.Message, field Field, ascending bool) []*domain.Message {
	sorted := append([]*domain.Message{}, messages...)
	less := func(a, b *domain.Message) bool {
		switch field {
		case FieldQueueID:
			return a.QueueID() < b.QueueID()
		case FieldSender:
			return a.Sender < b.Sender
		case FieldSize:
			return a.Size < b.Size
		case FieldStatus:
			return a.Status < b.Status
		default:
			return a.AcceptedAt.Before(b.AcceptedAt)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if ascending {
			return less(sorted[i], sorted[j])
		}
		return less(sorted[j], sorted[i])
	})
	return sorted
}

// RankEntry 统计结果中的一项
type RankEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Rank 按 field 的取值计数，按数量降序排列，数量相同时按取值升序
func Rank(messages []*domain.Message, field Field) []RankEntry {
	counts := make(map[string]int)
	for _, msg := range messages {
		counts[FieldValue(msg, field)]++
	}

	ranked := make([]RankEntry, 0, len(counts))
	for value, count := range counts {
		ranked = append(ranked, RankEntry{Value: value, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	return ranked
}

// FieldValue 返回邮件某个字段的文本值，日期按天统计
func FieldValue(msg *domain.Message, field Field) string {
	switch field {
	case FieldQueueID:
		return msg.QueueID()
	case FieldDate:
		return msg.AcceptedAt.Format("2006-01-02")
	case FieldSender:
		return msg.Sender
	case FieldSize:
		return strconv.FormatInt(msg.Size, 10)
	case FieldStatus:
		return string(msg.Status)
	}
	return ""
}

// Limit 返回前 n 项及未显示的数量，n <= 0 表示不限制
func Limit[T any](items []T, n int) ([]T, int) {
	if n <= 0 || len(items) <= n {
		return items, 0
	}
	return items[:n], len(items) - n
}

// FormatBrief 返回一行简要描述：{date} {qid} [{status}] {sender} ({size}B)
func FormatBrief(msg *domain.Message) string {
	return fmt.Sprintf("%s %s [%s] %s (%dB)",
		msg.AcceptedAt.Format(briefDateLayout), msg.QueueID(), msg.Status, msg.Sender, msg.Size)
}

// FormatMore 返回截断提示
func FormatMore(shown, more int) string {
	return fmt.Sprintf("...Preview of first %d (%d more)...", shown, more)
}
