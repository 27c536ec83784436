package postfix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"mailq/backend/internal/domain"

	"go.uber.org/zap"
)

// Commands 各外部命令的参数列表
type Commands struct {
	List    []string
	Dump    []string
	Hold    []string
	Release []string
	Requeue []string
	Delete  []string
}

// DefaultCommands 返回 Postfix 自带工具的默认命令
func DefaultCommands() Commands {
	return Commands{
		List:    []string{"postqueue", "-p"},
		Dump:    []string{"postcat", "-qv"},
		Hold:    []string{"postsuper", "-h", "-"},
		Release: []string{"postsuper", "-H", "-"},
		Requeue: []string{"postsuper", "-r", "-"},
		Delete:  []string{"postsuper", "-d", "-"},
	}
}

// ForOperation 返回管理操作对应的命令
func (c Commands) ForOperation(op domain.Operation) ([]string, error) {
	var command []string
	switch op {
	case domain.OperationHold:
		command = c.Hold
	case domain.OperationRelease:
		command = c.Release
	case domain.OperationRequeue:
		command = c.Requeue
	case domain.OperationDelete:
		command = c.Delete
	default:
		return nil, domain.InvalidArgument("unknown operation %q", op)
	}
	if len(command) == 0 {
		return nil, domain.InvalidArgument("no command configured for operation %q", op)
	}
	return command, nil
}

// Runner 负责拼接命令行（可选 sudo 前缀）并执行外部命令。
type Runner struct {
	// Sudo 非空时作为所有命令的前缀，例如 ["sudo", "-n"]
	Sudo   []string
	Logger *zap.Logger
}

// Argv 返回完整的参数列表
func (r *Runner) Argv(command []string, args ...string) []string {
	argv := make([]string, 0, len(r.Sudo)+len(command)+len(args))
	argv = append(argv, r.Sudo...)
	argv = append(argv, command...)
	argv = append(argv, args...)
	return argv
}

// Output 执行命令并返回标准输出。
//
// 启动失败或非零退出都返回 ErrExecution 类型的 *domain.CommandError。
func (r *Runner) Output(ctx context.Context, command []string, args ...string) ([]byte, error) {
	argv := r.Argv(command, args...)
	if len(argv) == 0 {
		return nil, domain.InvalidArgument("empty command")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Logger != nil {
		r.Logger.Debug("Running command", zap.Strings("argv", argv))
	}

	if err := cmd.Start(); err != nil {
		return nil, startError(argv, err)
	}
	if err := cmd.Wait(); err != nil {
		return stdout.Bytes(), &domain.CommandError{
			Kind:    domain.ErrExecution,
			Command: argv,
			Stderr:  stderr.String(),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// splitLines 按换行拆分并去掉每行首尾空白
func splitLines(output string) []string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return lines
}

// nonEmptyLines 返回去掉空行后的各行
func nonEmptyLines(output string) []string {
	result := make([]string, 0)
	for _, line := range splitLines(output) {
		if line != "" {
			result = append(result, line)
		}
	}
	return result
}

// ErrNotStarted 外部命令无法启动（不存在或不可执行）
var ErrNotStarted = errors.New("command could not be started")

// startError 包装命令启动失败
func startError(argv []string, err error) error {
	return &domain.CommandError{
		Kind:    domain.ErrExecution,
		Command: argv,
		Err:     fmt.Errorf("%w: %v", ErrNotStarted, err),
	}
}
