package postfix

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mailq/backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `*** ENVELOPE RECORDS deferred/C0004979687 ***
message_size:            4769             632               1               0            4769
message_arrival_time: Mon Apr 29 06:35:05 2024
create_time: Mon Apr 29 06:35:05 2024
named_attribute: rewrite_context=local
sender_fullname: Sender Name
sender: sender@domain.com
recipient: first.rcpt@remote1.org
recipient: second.rcpt@remote2.org
*** MESSAGE CONTENTS deferred/C0004979687 ***
regular_text: Received: by mail.domain.com (Postfix, from userid 1000)
regular_text: 	id C0004979687; Mon, 29 Apr 2024 06:35:05 +0200 (CEST)
regular_text: Received: from localhost by mail.domain.com
regular_text: Subject: Queue report
regular_text: X-Mailer-ID: abc-123
regular_text: MIME-Version: 1.0
regular_text: Content-Type: text/plain; charset=utf-8
regular_text: 
regular_text: Hello world
*** HEADER EXTRACTED deferred/C0004979687 ***
*** MESSAGE FILE END deferred/C0004979687 ***
`

// fakeDumpCommand 返回一个按队列 ID 输出 dir/<qid>.dump 内容的命令
func fakeDumpCommand(dir string) []string {
	return []string{"sh", "-c", `cat "` + dir + `/$0.dump"`}
}

func writeDump(t *testing.T, dir, qid, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, qid+".dump"), []byte(content), 0644))
}

func TestContentReader_Parse(t *testing.T) {
	dir := t.TempDir()
	writeDump(t, dir, "C0004979687", sampleDump)
	reader := NewContentReader(&Runner{}, fakeDumpCommand(dir), nil)

	msg := domain.NewMessage("C0004979687", 0, time.Time{}, "")
	require.NoError(t, reader.Parse(context.Background(), msg))

	assert.True(t, msg.Parsed)
	assert.Empty(t, msg.ParseError)
	assert.Equal(t, int64(4769), msg.Size)
	assert.Equal(t, "sender@domain.com", msg.Sender)
	assert.Equal(t, time.April, msg.AcceptedAt.Month())
	assert.Equal(t, 29, msg.AcceptedAt.Day())
	assert.Equal(t, []string{"first.rcpt@remote1.org", "second.rcpt@remote2.org"}, msg.Recipients)

	assert.Len(t, msg.Headers.Values("Received"), 2)
	assert.Equal(t, "Queue report", msg.Headers.Get("Subject"))
	// 头名称保持原始写法
	assert.Contains(t, msg.Headers, "X-Mailer-ID")
	assert.Contains(t, msg.Headers, "MIME-Version")
	assert.Equal(t, "abc-123", msg.Headers["X-Mailer-ID"][0])
}

func TestContentReader_KeepsKnownFacts(t *testing.T) {
	dir := t.TempDir()
	writeDump(t, dir, "C0004979687", sampleDump)
	reader := NewContentReader(&Runner{}, fakeDumpCommand(dir), nil)

	accepted := time.Date(2024, time.April, 28, 1, 2, 3, 0, time.UTC)
	msg := domain.NewMessage("C0004979687*", 100, accepted, "listing@domain.com")
	msg.Recipients = append(msg.Recipients, "listed@remote.org")

	require.NoError(t, reader.Parse(context.Background(), msg))
	assert.Equal(t, int64(100), msg.Size)
	assert.Equal(t, accepted, msg.AcceptedAt)
	assert.Equal(t, "listing@domain.com", msg.Sender)
	assert.Equal(t, []string{"listed@remote.org"}, msg.Recipients)
	assert.Equal(t, domain.StatusActive, msg.Status)
}

func TestContentReader_Failures(t *testing.T) {
	dir := t.TempDir()
	writeDump(t, dir, "ABCDEF1234", "*** ENVELOPE RECORDS ***\nmessage_size: 10\n")
	reader := NewContentReader(&Runner{}, fakeDumpCommand(dir), nil)

	t.Run("no content", func(t *testing.T) {
		msg := domain.NewMessage("ABCDEF1234", 0, time.Time{}, "")
		err := reader.Parse(context.Background(), msg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrParse))
		assert.False(t, msg.Parsed)
		assert.NotEmpty(t, msg.ParseError)
		assert.Empty(t, msg.Headers)
	})

	t.Run("message left the queue", func(t *testing.T) {
		msg := domain.NewMessage("FFFFFFFFFF", 0, time.Time{}, "")
		err := reader.Parse(context.Background(), msg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrExecution))
		assert.NotEmpty(t, msg.ParseError)
	})

	t.Run("invalid message", func(t *testing.T) {
		err := reader.Parse(context.Background(), nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	})
}

func TestHeaderSpellings(t *testing.T) {
	raw := "X-Mailer-ID: 1\r\n\tcontinued\r\nx-mailer-id: 2\r\nmessage-id: <a@b>\r\n\r\nBody-Like: no\r\n"
	spellings := headerSpellings(raw)

	assert.Equal(t, map[string]string{
		"X-Mailer-Id": "X-Mailer-ID",
		"Message-Id":  "message-id",
	}, spellings)
}
