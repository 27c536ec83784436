package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailq/backend/internal/domain"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Level      AlertLevel             `json:"level"`
	Component  string                 `json:"component"`
	Timestamp  time.Time              `json:"timestamp"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AlertRule 告警规则
//
// Condition 返回是否触发以及附加说明；条件恢复后告警自动解除。
type AlertRule struct {
	ID            string
	Name          string
	Condition     func() (bool, string)
	Level         AlertLevel
	Component     string
	Cooldown      time.Duration
	LastTriggered time.Time
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertReceiverFunc 将函数适配为 AlertReceiver
type AlertReceiverFunc func(alert *Alert) error

// SendAlert 实现 AlertReceiver
func (f AlertReceiverFunc) SendAlert(alert *Alert) error {
	return f(alert)
}

// AlertManager 告警管理器
type AlertManager struct {
	alerts    map[string]*Alert
	rules     []AlertRule
	receivers []AlertReceiver
	metrics   *Metrics
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewAlertManager 创建告警管理器，metrics 可以为 nil
func NewAlertManager(metrics *Metrics, logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		alerts:    make(map[string]*Alert),
		rules:     make([]AlertRule, 0),
		receivers: make([]AlertReceiver, 0),
		metrics:   metrics,
		logger:    logger,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// TriggerAlert 触发告警，同一 ID 的告警未解除前不重复发送
func (am *AlertManager) TriggerAlert(alert *Alert) bool {
	am.mu.Lock()
	if existing, exists := am.alerts[alert.ID]; exists && !existing.Resolved {
		am.mu.Unlock()
		am.logger.Debug("Alert already active", zap.String("alert_id", alert.ID))
		return false
	}
	am.alerts[alert.ID] = alert
	receivers := append([]AlertReceiver{}, am.receivers...)
	am.mu.Unlock()

	for _, receiver := range receivers {
		if err := receiver.SendAlert(alert); err != nil {
			am.logger.Error("Failed to send alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
	if am.metrics != nil {
		am.metrics.RecordAlert(alert.ID)
	}

	am.logger.Info("Alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
		zap.String("component", alert.Component),
	)
	return true
}

// ResolveAlert 解除告警
func (am *AlertManager) ResolveAlert(alertID string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if alert, exists := am.alerts[alertID]; exists && !alert.Resolved {
		now := time.Now()
		alert.Resolved = true
		alert.ResolvedAt = &now

		am.logger.Info("Alert resolved", zap.String("alert_id", alertID))
	}
}

// GetAlerts 获取告警列表
func (am *AlertManager) GetAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0, len(am.alerts))
	for _, alert := range am.alerts {
		alerts = append(alerts, *alert)
	}
	return alerts
}

// GetActiveAlerts 获取未解除的告警
func (am *AlertManager) GetActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0)
	for _, alert := range am.alerts {
		if !alert.Resolved {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// CheckRules 检查全部告警规则
func (am *AlertManager) CheckRules() {
	am.mu.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.RUnlock()

	for _, rule := range rules {
		firing, detail := rule.Condition()
		if !firing {
			am.ResolveAlert(rule.ID)
			continue
		}

		if time.Since(rule.LastTriggered) < rule.Cooldown {
			continue
		}

		triggered := am.TriggerAlert(&Alert{
			ID:        rule.ID,
			Title:     rule.Name,
			Message:   detail,
			Level:     rule.Level,
			Component: rule.Component,
			Timestamp: time.Now(),
		})
		if !triggered {
			continue
		}

		am.mu.Lock()
		for i, r := range am.rules {
			if r.ID == rule.ID {
				am.rules[i].LastTriggered = time.Now()
				break
			}
		}
		am.mu.Unlock()
	}
}

// StartMonitoring 按 interval 周期检查规则，直到 ctx 取消
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// ========== 队列告警规则 ==========

// StatsFunc 返回当前队列统计
type StatsFunc func() domain.QueueStatistics

// QueueSizeRule 队列邮件总数超过 max 时告警
func QueueSizeRule(stats StatsFunc, max int) AlertRule {
	return AlertRule{
		ID:   "queue_size",
		Name: "Queue Too Large",
		Condition: func() (bool, string) {
			s := stats()
			if !s.Loaded || max <= 0 || s.Total <= max {
				return false, ""
			}
			return true, fmt.Sprintf("queue holds %d messages (limit %d)", s.Total, max)
		},
		Level:     AlertLevelWarning,
		Component: "queue",
		Cooldown:  10 * time.Minute,
	}
}

// DeferredRatioRule deferred 邮件占比超过 ratio 时告警
func DeferredRatioRule(stats StatsFunc, ratio float64) AlertRule {
	return AlertRule{
		ID:   "deferred_ratio",
		Name: "Deferred Ratio High",
		Condition: func() (bool, string) {
			s := stats()
			if !s.Loaded || s.Total == 0 || ratio <= 0 {
				return false, ""
			}
			current := float64(s.ByStatus[domain.StatusDeferred]) / float64(s.Total)
			if current <= ratio {
				return false, ""
			}
			return true, fmt.Sprintf("%.0f%% of queued messages are deferred (limit %.0f%%)", current*100, ratio*100)
		},
		Level:     AlertLevelWarning,
		Component: "queue",
		Cooldown:  10 * time.Minute,
	}
}

// StaleStoreRule 数据超过 maxAge 未刷新时告警
func StaleStoreRule(stats StatsFunc, maxAge time.Duration) AlertRule {
	return AlertRule{
		ID:   "stale_store",
		Name: "Queue Data Stale",
		Condition: func() (bool, string) {
			s := stats()
			if maxAge <= 0 || s.LoadedAt == nil {
				return false, ""
			}
			age := time.Since(*s.LoadedAt)
			if age <= maxAge {
				return false, ""
			}
			return true, fmt.Sprintf("queue data is %s old (limit %s)", age.Round(time.Second), maxAge)
		},
		Level:     AlertLevelInfo,
		Component: "store",
		Cooldown:  30 * time.Minute,
	}
}

// ========== 告警接收器实现 ==========

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 发送告警到日志
func (lar *LogAlertReceiver) SendAlert(alert *Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case AlertLevelCritical:
		lar.logger.Error("CRITICAL ALERT", fields...)
	case AlertLevelWarning:
		lar.logger.Warn("WARNING ALERT", fields...)
	default:
		lar.logger.Info("INFO ALERT", fields...)
	}
	return nil
}
