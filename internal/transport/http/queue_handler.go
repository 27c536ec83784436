package httptransport

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/selector"
	"mailq/backend/internal/service"
)

// QueueHandler 队列查看与筛选接口
type QueueHandler struct {
	queue       *service.QueueService
	snapshotDir string
	logger      *zap.Logger
}

// NewQueueHandler 创建队列处理器，snapshotDir 为空时不允许加载快照文件
func NewQueueHandler(queue *service.QueueService, snapshotDir string, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, snapshotDir: snapshotDir, logger: logger}
}

// getStore 返回当前队列统计
// GET /api/v1/store
func (h *QueueHandler) getStore(c *gin.Context) {
	Success(c, h.queue.Status())
}

// loadStore 重新加载队列
// POST /api/v1/store/load
func (h *QueueHandler) loadStore(c *gin.Context) {
	var req service.LoadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidJSON)
			return
		}
	}

	if req.Filename != "" {
		path, err := SnapshotPath(h.snapshotDir, req.Filename)
		if err != nil {
			respondError(c, err, nil)
			return
		}
		req.Filename = path
	}

	stats, err := h.queue.Load(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	SuccessWithMsg(c, "队列已加载", stats)
}

// SnapshotPath 将请求中的快照文件名限制在 dir 目录内，只接受不含路径的文件名
func SnapshotPath(dir, name string) (string, error) {
	if dir == "" {
		return "", domain.InvalidArgument("snapshot loading is disabled")
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", domain.InvalidArgument("snapshot filename must be a plain file name")
	}
	return filepath.Join(dir, name), nil
}

// getSelection 返回当前选择
// GET /api/v1/selection?sortby=date&asc=false&rankby=&limit=0
func (h *QueueHandler) getSelection(c *gin.Context) {
	var req service.ViewRequest

	if value := c.Query("sortby"); value != "" {
		field, err := selector.ParseField(value)
		if err != nil {
			BadRequest(c, MsgInvalidField)
			return
		}
		req.SortBy = field
	}
	if value := c.Query("rankby"); value != "" {
		field, err := selector.ParseField(value)
		if err != nil {
			BadRequest(c, MsgInvalidField)
			return
		}
		req.RankBy = field
	}
	if value := c.Query("asc"); value != "" {
		asc, err := strconv.ParseBool(value)
		if err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		req.Ascending = asc
	}
	if value := c.Query("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			BadRequest(c, MsgInvalidLimit)
			return
		}
		req.Limit = limit
	}

	view, err := h.queue.Selection(req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	Success(c, view)
}

// FilterRequest 新增筛选条件的请求体
//
// kind 决定使用哪些字段：
//   - status: statuses
//   - sender: sender、partial（或 exact，与 partial 相反）
//   - error: substring
//   - date: start、stop（RFC3339），或 dates（2006-01-02、A..B、+A、-B）
//   - size: min、max，或 sizes（n、+n、-n）
type FilterRequest struct {
	Kind string `json:"kind" binding:"required"`

	Statuses []string `json:"statuses"`

	Sender  string `json:"sender"`
	Partial bool   `json:"partial"`
	Exact   *bool  `json:"exact"`

	Substring string `json:"substring"`

	Start *time.Time `json:"start"`
	Stop  *time.Time `json:"stop"`
	Dates string     `json:"dates"`

	Min   int64    `json:"min"`
	Max   int64    `json:"max"`
	Sizes []string `json:"sizes"`
}

// ToFilter 转换为筛选条件，参数校验由 selector 完成
func (r FilterRequest) ToFilter(loc *time.Location) (selector.Filter, error) {
	switch strings.ToLower(r.Kind) {
	case "status":
		statuses := make([]domain.MessageStatus, 0, len(r.Statuses))
		for _, value := range r.Statuses {
			status, err := domain.ParseStatus(value)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, status)
		}
		return selector.StatusFilter{Statuses: statuses}, nil

	case "sender":
		partial := r.Partial
		if r.Exact != nil {
			partial = !*r.Exact
		}
		return selector.SenderFilter{Sender: r.Sender, Partial: partial}, nil

	case "error":
		return selector.ErrorFilter{Substring: r.Substring}, nil

	case "date":
		if r.Dates != "" {
			start, stop, err := selector.ParseDateSpec(r.Dates, loc)
			if err != nil {
				return nil, err
			}
			return selector.DateFilter{Start: start, Stop: stop}, nil
		}
		return selector.DateFilter{Start: r.Start, Stop: r.Stop}, nil

	case "size":
		if len(r.Sizes) > 0 {
			min, max, err := selector.ParseSizeSpec(r.Sizes...)
			if err != nil {
				return nil, err
			}
			return selector.SizeFilter{Min: min, Max: max}, nil
		}
		return selector.SizeFilter{Min: r.Min, Max: r.Max}, nil
	}
	return nil, domain.InvalidArgument("unknown filter kind %q", r.Kind)
}

// addFilter 在当前选择上应用筛选条件
// POST /api/v1/selection/filters
func (h *QueueHandler) addFilter(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	filter, err := req.ToFilter(time.Local)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	messages, err := h.queue.Apply(filter)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	SuccessWithMsg(c, filter.String(), gin.H{
		"selected": len(messages),
		"filters":  service.DescribeFilters(h.queue.Filters()),
	})
}

// listFilters 列出已应用的筛选条件
// GET /api/v1/selection/filters
func (h *QueueHandler) listFilters(c *gin.Context) {
	Success(c, service.DescribeFilters(h.queue.Filters()))
}

// removeFilter 删除一条筛选条件
// DELETE /api/v1/selection/filters/:index
func (h *QueueHandler) removeFilter(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		BadRequest(c, MsgInvalidIndex)
		return
	}

	if err := h.queue.RemoveFilter(index); err != nil {
		respondError(c, err, nil)
		return
	}
	Success(c, service.DescribeFilters(h.queue.Filters()))
}

// resetSelection 清空筛选条件
// POST /api/v1/selection/reset
func (h *QueueHandler) resetSelection(c *gin.Context) {
	h.queue.Reset()
	Success(c, gin.H{"selected": h.queue.Status().Total})
}

// replaySelection 重放筛选条件
// POST /api/v1/selection/replay
func (h *QueueHandler) replaySelection(c *gin.Context) {
	messages := h.queue.Replay()
	Success(c, gin.H{
		"selected": len(messages),
		"filters":  service.DescribeFilters(h.queue.Filters()),
	})
}

// getMessage 解析并返回单封邮件
// GET /api/v1/messages/:qid
func (h *QueueHandler) getMessage(c *gin.Context) {
	dump, err := h.queue.Inspect(c.Request.Context(), c.Param("qid"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	Success(c, dump)
}
