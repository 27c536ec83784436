package domain

import (
	"errors"
	"fmt"
	"strings"
)

// 错误分类，调用方通过 errors.Is 判断
var (
	ErrParse           = errors.New("parse error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrExecution       = errors.New("execution error")
	ErrAuthorization   = errors.New("authorization error")

	ErrStoreNotLoaded  = errors.New("store is not loaded")
	ErrMessageNotFound = errors.New("message not found")
)

// ParseError 队列列表或邮件内容解析失败
type ParseError struct {
	Line   int    // 出错的行号（从 1 开始），0 表示不适用
	Text   string // 出错的原始行
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d (%q): %s", e.Line, e.Text, e.Reason)
	}
	return "parse error: " + e.Reason
}

// Unwrap 使 errors.Is(err, ErrParse) 成立
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// CommandError 外部命令执行失败
//
// Kind 为 ErrExecution 或 ErrAuthorization。
type CommandError struct {
	Kind    error
	Command []string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	b.WriteString(": ")
	b.WriteString(strings.Join(e.Command, " "))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	}
	return b.String()
}

// Unwrap 同时暴露错误分类与底层错误
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// InvalidArgument 构造参数错误
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
