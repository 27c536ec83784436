package postfix

import (
	"bufio"
	"context"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"mailq/backend/internal/domain"
	"mailq/backend/internal/logger"

	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"
)

// postcat -qv 输出中的字段前缀
const (
	prefixSize        = "message_size:"
	prefixCreateTime  = "create_time:"
	prefixSender      = "sender:"
	prefixRecipient   = "recipient:"
	prefixRegularText = "regular_text:"
)

// ContentReader 通过 postcat 读取邮件内容并解析邮件头。
type ContentReader struct {
	Runner  *Runner
	Command []string
	Logger  *zap.Logger
}

// NewContentReader 创建内容读取器
func NewContentReader(runner *Runner, command []string, log *zap.Logger) *ContentReader {
	return &ContentReader{Runner: runner, Command: command, Logger: logger.OrNop(log)}
}

// Parse 读取 msg 的内容并填充邮件头。
//
// 大小、接收时间、发件人只在尚未获得时补充；收件人只在列表为空时补充。
// 失败时 msg.ParseError 记录原因，Parsed 保持不变。
func (r *ContentReader) Parse(ctx context.Context, msg *domain.Message) error {
	if msg == nil || !domain.IsQueueID(msg.QueueID()) {
		return domain.InvalidArgument("message has no valid queue id")
	}
	defer logger.Timed(r.Logger, "parse_message", zap.String("qid", msg.QueueID()))()

	output, err := r.Runner.Output(ctx, r.Command, msg.QueueID())
	if err != nil {
		msg.ParseError = err.Error()
		return err
	}

	raw := r.scan(string(output), msg)
	if strings.TrimSpace(raw) == "" {
		return r.fail(msg, "no message content in dump")
	}

	env, err := enmime.ReadEnvelope(strings.NewReader(raw))
	if err != nil {
		return r.fail(msg, err.Error())
	}

	spellings := headerSpellings(raw)
	headers := make(domain.Headers)
	for _, key := range env.GetHeaderKeys() {
		name := key
		if original, ok := spellings[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			name = original
		}
		for _, value := range env.GetHeaderValues(key) {
			headers.Add(name, value)
		}
	}

	msg.SetHeaders(headers)
	return nil
}

// scan 逐行处理 postcat 输出，返回重新拼接的原始邮件文本
func (r *ContentReader) scan(output string, msg *domain.Message) string {
	collectRecipients := len(msg.Recipients) == 0
	var body strings.Builder

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		switch {
		case strings.HasPrefix(line, prefixRegularText):
			body.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, prefixRegularText), " "))
			body.WriteString("\r\n")

		case strings.HasPrefix(line, prefixSize):
			if msg.Size != 0 {
				continue
			}
			fields := strings.Fields(strings.TrimPrefix(line, prefixSize))
			if len(fields) == 0 {
				continue
			}
			if size, err := strconv.ParseInt(fields[0], 10, 64); err == nil && size >= 0 {
				msg.Size = size
			}

		case strings.HasPrefix(line, prefixCreateTime):
			if !msg.AcceptedAt.IsZero() {
				continue
			}
			value := strings.Join(strings.Fields(strings.TrimPrefix(line, prefixCreateTime)), " ")
			if date, err := time.ParseInLocation(time.ANSIC, value, time.Local); err == nil {
				msg.AcceptedAt = date
			} else {
				r.Logger.Debug("Unparseable create_time", zap.String("qid", msg.QueueID()), zap.String("value", value))
			}

		case strings.HasPrefix(line, prefixSender):
			if msg.Sender == "" {
				msg.Sender = strings.TrimSpace(strings.TrimPrefix(line, prefixSender))
			}

		case strings.HasPrefix(line, prefixRecipient):
			if collectRecipients {
				if rcpt := strings.TrimSpace(strings.TrimPrefix(line, prefixRecipient)); rcpt != "" {
					msg.Recipients = append(msg.Recipients, rcpt)
				}
			}
		}
	}

	return body.String()
}

func (r *ContentReader) fail(msg *domain.Message, reason string) error {
	msg.ParseError = reason
	r.Logger.Warn("Failed to parse message content",
		zap.String("qid", msg.QueueID()),
		zap.String("reason", reason),
	)
	return &domain.ParseError{Reason: "message " + msg.QueueID() + ": " + reason}
}

// headerSpellings 扫描原始邮件头，记录每个头名称第一次出现时的写法
func headerSpellings(raw string) map[string]string {
	spellings := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		key := textproto.CanonicalMIMEHeaderKey(name)
		if _, seen := spellings[key]; !seen {
			spellings[key] = name
		}
	}
	return spellings
}
