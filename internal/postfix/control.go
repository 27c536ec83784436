package postfix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/logger"

	"go.uber.org/zap"
)

// DefaultAuthCheckDelay 启动 postsuper 后等待多久再判断是否因权限不足而退出
const DefaultAuthCheckDelay = 100 * time.Millisecond

// Batcher 以批量方式对队列邮件执行 postsuper 管理操作。
//
// 每批只启动一个子进程，队列 ID 逐行写入其标准输入。
type Batcher struct {
	Runner         *Runner
	Commands       Commands
	AuthCheckDelay time.Duration
	Logger         *zap.Logger
}

// NewBatcher 创建批量管理器
func NewBatcher(runner *Runner, commands Commands, authCheckDelay time.Duration, log *zap.Logger) *Batcher {
	if authCheckDelay <= 0 {
		authCheckDelay = DefaultAuthCheckDelay
	}
	return &Batcher{
		Runner:         runner,
		Commands:       commands,
		AuthCheckDelay: authCheckDelay,
		Logger:         logger.OrNop(log),
	}
}

// Hold 暂停投递
func (b *Batcher) Hold(ctx context.Context, messages []*domain.Message) ([]string, error) {
	return b.Operate(ctx, domain.OperationHold, messages)
}

// Release 解除暂停
func (b *Batcher) Release(ctx context.Context, messages []*domain.Message) ([]string, error) {
	return b.Operate(ctx, domain.OperationRelease, messages)
}

// Requeue 重新入队
func (b *Batcher) Requeue(ctx context.Context, messages []*domain.Message) ([]string, error) {
	return b.Operate(ctx, domain.OperationRequeue, messages)
}

// Delete 删除邮件
func (b *Batcher) Delete(ctx context.Context, messages []*domain.Message) ([]string, error) {
	return b.Operate(ctx, domain.OperationDelete, messages)
}

// Operate 对 messages 执行 op，返回子进程标准错误输出的各行。
//
// 错误分类：
//   - 未知操作、空列表、缺少合法 ID：ErrInvalidArgument，不启动子进程
//   - 命令无法启动、写入标准输入失败：ErrExecution
//   - 子进程在检查窗口内以非零状态退出：ErrAuthorization
//
// 输入全部写入后的非零退出只记录日志。
func (b *Batcher) Operate(ctx context.Context, op domain.Operation, messages []*domain.Message) ([]string, error) {
	command, err := b.Commands.ForOperation(op)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, domain.InvalidArgument("no message selected for %s", op)
	}

	ids := make([]string, 0, len(messages))
	for i, msg := range messages {
		if msg == nil || !domain.IsQueueID(msg.QueueID()) {
			return nil, domain.InvalidArgument("message #%d has no valid queue id", i)
		}
		ids = append(ids, msg.QueueID())
	}

	defer logger.Timed(b.Logger, "operate", zap.String("operation", string(op)), zap.Int("messages", len(ids)))()

	argv := b.Runner.Argv(command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stderr lockedBuffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, startError(argv, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, startError(argv, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case waitErr := <-done:
		if waitErr != nil {
			_ = stdin.Close()
			return nil, &domain.CommandError{
				Kind:    domain.ErrAuthorization,
				Command: argv,
				Stderr:  stderr.String(),
				Err:     waitErr,
			}
		}
		// 子进程已正常退出但尚未读取输入，写入必然失败
		if writeErr := writeIDs(stdin, ids); writeErr != nil {
			return nil, &domain.CommandError{Kind: domain.ErrExecution, Command: argv, Stderr: stderr.String(), Err: writeErr}
		}
		return nonEmptyLines(stderr.String()), nil

	case <-time.After(b.AuthCheckDelay):
	case <-ctx.Done():
		<-done
		return nil, &domain.CommandError{Kind: domain.ErrExecution, Command: argv, Stderr: stderr.String(), Err: ctx.Err()}
	}

	if writeErr := writeIDs(stdin, ids); writeErr != nil {
		<-done
		return nil, &domain.CommandError{Kind: domain.ErrExecution, Command: argv, Stderr: stderr.String(), Err: writeErr}
	}

	waitErr := <-done
	lines := nonEmptyLines(stderr.String())
	if waitErr != nil {
		b.Logger.Warn("Batch command exited with error",
			zap.String("operation", string(op)),
			zap.Strings("command", argv),
			zap.Error(waitErr),
			zap.Strings("stderr", lines),
		)
	}

	b.Logger.Info("Batch operation applied",
		zap.String("operation", string(op)),
		zap.Int("messages", len(ids)),
	)
	return lines, nil
}

// writeIDs 逐行写入队列 ID 并关闭输入
func writeIDs(stdin io.WriteCloser, ids []string) error {
	_, err := io.WriteString(stdin, strings.Join(ids, "\n")+"\n")
	closeErr := stdin.Close()
	if err != nil {
		return fmt.Errorf("write queue ids: %w", err)
	}
	if closeErr != nil && !errors.Is(closeErr, io.ErrClosedPipe) {
		return fmt.Errorf("close stdin: %w", closeErr)
	}
	return nil
}

// lockedBuffer 允许子进程输出复制协程与读取方并发访问
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
