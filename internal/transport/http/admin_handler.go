package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/monitoring"
	"mailq/backend/internal/selector"
	"mailq/backend/internal/service"
)

// AdminHandler 队列管理操作接口
type AdminHandler struct {
	queue  *service.QueueService
	alerts *monitoring.AlertManager
	logger *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(queue *service.QueueService, alerts *monitoring.AlertManager, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{queue: queue, alerts: alerts, logger: logger}
}

// OperateRequest 管理操作请求体
//
// 给出 filters 时操作目标由这些条件在当前队列上重新筛选得到（空列表表示全部邮件），
// 不使用共享的选择；省略时作用于当前选择。
type OperateRequest struct {
	Filters []FilterRequest `json:"filters"`
}

// operate 对当前选择或请求中的筛选结果执行 hold/release/requeue/delete
// POST /api/v1/admin/:operation
func (h *AdminHandler) operate(c *gin.Context) {
	op, err := domain.ParseOperation(c.Param("operation"))
	if err != nil {
		BadRequest(c, MsgUnknownOperation)
		return
	}

	var req OperateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidJSON)
			return
		}
	}

	var result *domain.OperationResult
	if req.Filters != nil {
		filters := make([]selector.Filter, 0, len(req.Filters))
		for _, fr := range req.Filters {
			f, err := fr.ToFilter(time.Local)
			if err != nil {
				respondError(c, err, nil)
				return
			}
			filters = append(filters, f)
		}
		result, err = h.queue.OperateOn(c.Request.Context(), op, filters)
	} else {
		result, err = h.queue.Operate(c.Request.Context(), op)
	}
	if err != nil {
		h.logger.Warn("Admin operation failed",
			zap.String("operation", string(op)),
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		if result == nil {
			respondError(c, err, nil)
			return
		}
		respondError(c, err, result)
		return
	}

	h.logger.Info("Admin operation applied",
		zap.String("operation", string(op)),
		zap.Int("messages", result.Count),
		zap.String("ip", c.ClientIP()))
	msg := result.Summary
	if msg == "" {
		msg = "操作完成"
	}
	SuccessWithMsg(c, msg, result)
}

// listAlerts 返回未解除的告警
// GET /api/v1/alerts
func (h *AdminHandler) listAlerts(c *gin.Context) {
	if h.alerts == nil {
		Success(c, []monitoring.Alert{})
		return
	}
	Success(c, h.alerts.GetActiveAlerts())
}
