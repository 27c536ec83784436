package domain

import "time"

// QueueStatistics 当前加载的队列统计信息
type QueueStatistics struct {
	Loaded     bool                  `json:"loaded"`
	LoadedAt   *time.Time            `json:"loadedAt,omitempty"`
	Source     string                `json:"source,omitempty"`
	Total      int                   `json:"total"`
	TotalBytes int64                 `json:"totalBytes"`
	ByStatus   map[MessageStatus]int `json:"byStatus"`
}

// CountMessages 统计邮件数量与总大小
func CountMessages(messages []*Message) QueueStatistics {
	stats := QueueStatistics{
		ByStatus: make(map[MessageStatus]int, 3),
	}
	for _, status := range AllStatuses() {
		stats.ByStatus[status] = 0
	}
	for _, msg := range messages {
		stats.Total++
		stats.TotalBytes += msg.Size
		stats.ByStatus[msg.Status]++
	}
	return stats
}
