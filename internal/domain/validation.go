package domain

import (
	"regexp"
	"strings"
)

// 正则表达式
var (
	// 队列列表中的 ID：10 到 12 位十六进制字符，可带 * 或 ! 状态标记
	queueTokenRegex = regexp.MustCompile(`^[A-F0-9]{10,12}[*!]?$`)

	// 去掉状态标记后的队列 ID
	queueIDRegex = regexp.MustCompile(`^[A-F0-9]{10,12}$`)

	// 保守的收件人地址格式（本地部分@域名，域名至少包含一个点）
	addressRegex = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]+$`)
)

// IsQueueToken 判断队列列表中的首个字段是否为队列 ID（允许状态标记）
func IsQueueToken(token string) bool {
	return queueTokenRegex.MatchString(token)
}

// IsQueueID 判断字符串是否为不带状态标记的队列 ID
func IsQueueID(id string) bool {
	return queueIDRegex.MatchString(id)
}

// ValidateAddress 检查收件人地址格式
func ValidateAddress(address string) bool {
	return addressRegex.MatchString(strings.TrimSpace(address))
}
