package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// MessageStatus 表示邮件在 Postfix 队列中的状态。
type MessageStatus string

const (
	StatusActive   MessageStatus = "active"
	StatusHold     MessageStatus = "hold"
	StatusDeferred MessageStatus = "deferred"
)

// statusMarkers 队列 ID 末尾标记字符与状态的对应关系
var statusMarkers = map[byte]MessageStatus{
	'*': StatusActive,
	'!': StatusHold,
}

// AllStatuses 返回全部已知状态，顺序与 Postfix 队列目录一致。
func AllStatuses() []MessageStatus {
	return []MessageStatus{StatusActive, StatusDeferred, StatusHold}
}

// ParseStatus 将字符串解析为队列状态（忽略大小写和首尾空白）。
func ParseStatus(value string) (MessageStatus, error) {
	status := MessageStatus(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case StatusActive, StatusHold, StatusDeferred:
		return status, nil
	}
	return "", InvalidArgument("unknown status %q", value)
}

// SplitQueueID 拆分队列 ID 与末尾的状态标记。
//
// 没有标记的 ID 视为 deferred 状态。
func SplitQueueID(raw string) (string, MessageStatus) {
	if raw == "" {
		return "", StatusDeferred
	}
	if status, ok := statusMarkers[raw[len(raw)-1]]; ok {
		return raw[:len(raw)-1], status
	}
	return raw, StatusDeferred
}

// Headers 保存解析后的邮件头，头名称保持原始大小写，同名头的多个值按出现顺序保存。
type Headers map[string][]string

// Add 追加一个头值
func (h Headers) Add(name, value string) {
	h[name] = append(h[name], value)
}

// Values 返回指定头的全部值，先精确匹配，再忽略大小写匹配。
func (h Headers) Values(name string) []string {
	if values, ok := h[name]; ok {
		return values
	}
	for key, values := range h {
		if strings.EqualFold(key, name) {
			return values
		}
	}
	return nil
}

// Get 返回指定头的第一个值
func (h Headers) Get(name string) string {
	values := h.Values(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Names 返回排序后的头名称列表
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Message 表示 Postfix 队列中的一封邮件。
//
// 队列 ID 在创建后不可修改，只能通过 QueueID 读取。Recipients 与 Errors
// 永远不为 nil；Headers 在 Parsed 为 true 之前保持为空。
type Message struct {
	qid string

	Status     MessageStatus
	Size       int64
	AcceptedAt time.Time
	Sender     string
	Recipients []string
	Errors     []string

	Parsed     bool
	ParseError string
	Headers    Headers
}

// NewMessage 根据队列列表中的原始 ID 创建邮件，原始 ID 可以带有状态标记。
func NewMessage(rawID string, size int64, acceptedAt time.Time, sender string) *Message {
	qid, status := SplitQueueID(rawID)
	return &Message{
		qid:        qid,
		Status:     status,
		Size:       size,
		AcceptedAt: acceptedAt,
		Sender:     sender,
		Recipients: make([]string, 0),
		Errors:     make([]string, 0),
		Headers:    make(Headers),
	}
}

// QueueID 返回不带状态标记的队列 ID
func (m *Message) QueueID() string {
	return m.qid
}

// SetHeaders 保存解析出的邮件头并标记为已解析。
func (m *Message) SetHeaders(headers Headers) {
	if headers == nil {
		headers = make(Headers)
	}
	m.Headers = headers
	m.Parsed = true
	m.ParseError = ""
}

// QueueFacts 是直接来自队列的邮件信息
type QueueFacts struct {
	QueueID    string        `json:"qid"`
	Status     MessageStatus `json:"status"`
	Size       int64         `json:"size"`
	Date       *time.Time    `json:"date"`
	Sender     string        `json:"sender"`
	Recipients []string      `json:"recipients"`
	Errors     []string      `json:"errors"`
	Parsed     bool          `json:"parsed"`
	ParseError string        `json:"parse_error"`
}

// MessageDump 是邮件信息的两段式导出：队列信息与邮件头。
type MessageDump struct {
	Postqueue QueueFacts `json:"postqueue"`
	Headers   Headers    `json:"headers"`
}

// Dump 导出邮件信息。未解析的邮件 Headers 部分为空。
func (m *Message) Dump() MessageDump {
	facts := QueueFacts{
		QueueID:    m.qid,
		Status:     m.Status,
		Size:       m.Size,
		Sender:     m.Sender,
		Recipients: append([]string{}, m.Recipients...),
		Errors:     append([]string{}, m.Errors...),
		Parsed:     m.Parsed,
		ParseError: m.ParseError,
	}
	if !m.AcceptedAt.IsZero() {
		date := m.AcceptedAt
		facts.Date = &date
	}

	headers := make(Headers)
	if m.Parsed {
		for name, values := range m.Headers {
			headers[name] = append([]string{}, values...)
		}
	}

	return MessageDump{Postqueue: facts, Headers: headers}
}

// messageJSON 是 Message 的 JSON 表示
type messageJSON struct {
	QueueID    string        `json:"queueId"`
	Status     MessageStatus `json:"status"`
	Size       int64         `json:"size"`
	AcceptedAt time.Time     `json:"acceptedAt"`
	Sender     string        `json:"sender"`
	Recipients []string      `json:"recipients"`
	Errors     []string      `json:"errors"`
	Parsed     bool          `json:"parsed"`
	ParseError string        `json:"parseError,omitempty"`
	Headers    Headers       `json:"headers,omitempty"`
}

// MarshalJSON 实现 json.Marshaler
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		QueueID:    m.qid,
		Status:     m.Status,
		Size:       m.Size,
		AcceptedAt: m.AcceptedAt,
		Sender:     m.Sender,
		Recipients: m.Recipients,
		Errors:     m.Errors,
		Parsed:     m.Parsed,
		ParseError: m.ParseError,
		Headers:    m.Headers,
	})
}
