package postfix

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailq/backend/internal/domain"
)

// listingDateLayout 队列列表中的接收时间不带年份，解析时补上推断的年份
const listingDateLayout = "Mon Jan 2 15:04:05 2006"

// ParseQueue 解析 postqueue -p 的正文部分（不含首行标题与末尾统计行）。
//
// 规则：
//   - 空行与以 "-" 开头的行忽略
//   - 首个字段是队列 ID 的行开始一封新邮件
//   - 以 "(" 开头的行是当前邮件的错误说明
//   - 其余行若是合法地址则作为当前邮件的收件人，否则丢弃
//
// 在第一封邮件之前出现错误说明或收件人行时返回 *domain.ParseError。
func ParseQueue(lines []string, now time.Time) ([]*domain.Message, error) {
	messages := make([]*domain.Message, 0)
	var current *domain.Message

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		fields := strings.Fields(line)
		if domain.IsQueueToken(fields[0]) {
			msg, err := parseHeaderLine(fields, now)
			if err != nil {
				return nil, &domain.ParseError{Line: i + 1, Text: line, Reason: err.Error()}
			}
			messages = append(messages, msg)
			current = msg
			continue
		}

		if current == nil {
			return nil, &domain.ParseError{Line: i + 1, Text: line, Reason: "line appears before any message"}
		}

		if strings.HasPrefix(line, "(") {
			current.Errors = append(current.Errors, strings.TrimSuffix(strings.TrimPrefix(line, "("), ")"))
			continue
		}

		if domain.ValidateAddress(line) {
			current.Recipients = append(current.Recipients, line)
		}
	}

	return messages, nil
}

// parseHeaderLine 解析邮件首行：ID、大小、接收时间（星期 月 日 时间）、发件人
func parseHeaderLine(fields []string, now time.Time) (*domain.Message, error) {
	if len(fields) < 7 {
		return nil, fmt.Errorf("expected at least 7 fields, got %d", len(fields))
	}

	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("invalid size %q", fields[1])
	}

	acceptedAt, err := InferDate(strings.Join(fields[2:len(fields)-1], " "), now)
	if err != nil {
		return nil, err
	}

	return domain.NewMessage(fields[0], size, acceptedAt, fields[len(fields)-1]), nil
}

// InferDate 解析不带年份的时间（如 "Mon Apr 29 06:35:05"）。
//
// 先按 now 所在年份解析；结果晚于 now 时减去 365 天。
func InferDate(value string, now time.Time) (time.Time, error) {
	text := strings.Join(strings.Fields(value), " ") + " " + strconv.Itoa(now.Year())
	date, err := time.ParseInLocation(listingDateLayout, text, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	if date.After(now) {
		date = date.AddDate(0, 0, -365)
	}
	return date, nil
}
