package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailq/backend/internal/domain"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	domain.ErrStoreNotLoaded:  "队列尚未加载",
	domain.ErrMessageNotFound: "邮件不在当前队列中",
	domain.ErrParse:           "队列数据或邮件内容解析失败",
}

// GetErrorMessage 获取错误的提示消息
func GetErrorMessage(err error) string {
	for sentinel, msg := range errorMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return err.Error()
}

// StatusFor 将错误分类映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreNotLoaded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrExecution):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError 按错误分类返回响应，data 不为 nil 时一并返回
func respondError(c *gin.Context, err error, data interface{}) {
	_ = c.Error(err)
	status := StatusFor(err)
	msg := GetErrorMessage(err)
	if status == http.StatusInternalServerError {
		msg = MsgInternalError
	}
	ErrorWithData(c, status, msg, data)
}

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgInvalidField     = "排序或统计字段无效"
	MsgInvalidLimit     = "limit 必须是非负整数"
	MsgInvalidIndex     = "筛选条件序号无效"
	MsgUnknownOperation = "不支持的管理操作"
	MsgInternalError    = "服务器内部错误，请稍后重试"
)
