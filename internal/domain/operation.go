package domain

import "strings"

// Operation 队列管理操作
type Operation string

const (
	OperationHold    Operation = "hold"
	OperationRelease Operation = "release"
	OperationRequeue Operation = "requeue"
	OperationDelete  Operation = "delete"
)

// Operations 返回全部支持的管理操作
func Operations() []Operation {
	return []Operation{OperationHold, OperationRelease, OperationRequeue, OperationDelete}
}

// ParseOperation 解析管理操作名称
func ParseOperation(value string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(value)))
	switch op {
	case OperationHold, OperationRelease, OperationRequeue, OperationDelete:
		return op, nil
	}
	return "", InvalidArgument("unknown operation %q", value)
}

// OperationResult 一次批量操作的结果
type OperationResult struct {
	Operation Operation `json:"operation"`
	Count     int       `json:"count"`
	Output    []string  `json:"output"`
	Summary   string    `json:"summary"`
}
