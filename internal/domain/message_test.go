package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_StatusMarker(t *testing.T) {
	tests := []struct {
		rawID    string
		wantID   string
		expected MessageStatus
	}{
		{"ABCDEF1234", "ABCDEF1234", StatusDeferred},
		{"ABCDEF1234*", "ABCDEF1234", StatusActive},
		{"ABCDEF1234!", "ABCDEF1234", StatusHold},
	}

	for _, tt := range tests {
		t.Run(tt.rawID, func(t *testing.T) {
			msg := NewMessage(tt.rawID, 100, time.Time{}, "a@b.com")
			assert.Equal(t, tt.wantID, msg.QueueID())
			assert.Equal(t, tt.expected, msg.Status)
			assert.NotNil(t, msg.Recipients)
			assert.NotNil(t, msg.Errors)
			assert.Empty(t, msg.Headers)
			assert.False(t, msg.Parsed)
		})
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("Hold")
	require.NoError(t, err)
	assert.Equal(t, StatusHold, status)

	_, err = ParseStatus("bounced")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestHeaders(t *testing.T) {
	headers := make(Headers)
	headers.Add("Received", "from a")
	headers.Add("Received", "from b")
	headers.Add("Subject", "hello")

	assert.Equal(t, []string{"from a", "from b"}, headers.Values("Received"))
	assert.Equal(t, "hello", headers.Get("subject"))
	assert.Equal(t, "", headers.Get("X-Missing"))
	assert.Equal(t, []string{"Received", "Subject"}, headers.Names())
}

func TestMessage_Dump(t *testing.T) {
	accepted := time.Date(2024, time.April, 29, 6, 35, 5, 0, time.UTC)
	msg := NewMessage("C0004979687*", 4769, accepted, "sender@domain.com")
	msg.Recipients = append(msg.Recipients, "first.rcpt@remote1.org")
	msg.Errors = append(msg.Errors, "connection refused")

	// 未解析的邮件不导出邮件头
	msg.Headers.Add("Subject", "leaked")
	dump := msg.Dump()
	assert.Equal(t, "C0004979687", dump.Postqueue.QueueID)
	assert.Equal(t, StatusActive, dump.Postqueue.Status)
	assert.Equal(t, int64(4769), dump.Postqueue.Size)
	require.NotNil(t, dump.Postqueue.Date)
	assert.True(t, accepted.Equal(*dump.Postqueue.Date))
	assert.Equal(t, []string{"first.rcpt@remote1.org"}, dump.Postqueue.Recipients)
	assert.Empty(t, dump.Headers)

	headers := make(Headers)
	headers.Add("Subject", "hello")
	msg.SetHeaders(headers)
	dump = msg.Dump()
	assert.True(t, dump.Postqueue.Parsed)
	assert.Equal(t, []string{"hello"}, dump.Headers["Subject"])

	// 导出结果与原邮件互不影响
	dump.Postqueue.Recipients[0] = "changed@example.com"
	assert.Equal(t, "first.rcpt@remote1.org", msg.Recipients[0])
}

func TestMessage_MarshalJSON(t *testing.T) {
	msg := NewMessage("ABCDEF1234!", 100, time.Time{}, "a@b.com")

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "ABCDEF1234", decoded["queueId"])
	assert.Equal(t, "hold", decoded["status"])
	assert.Equal(t, []interface{}{}, decoded["recipients"])
}

func TestCountMessages(t *testing.T) {
	messages := []*Message{
		NewMessage("ABCDEF1234", 100, time.Time{}, "a@b.com"),
		NewMessage("ABCDEF1235*", 200, time.Time{}, "a@b.com"),
		NewMessage("ABCDEF1236!", 300, time.Time{}, "a@b.com"),
		NewMessage("ABCDEF1237", 400, time.Time{}, "a@b.com"),
	}

	stats := CountMessages(messages)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, int64(1000), stats.TotalBytes)
	assert.Equal(t, 2, stats.ByStatus[StatusDeferred])
	assert.Equal(t, 1, stats.ByStatus[StatusActive])
	assert.Equal(t, 1, stats.ByStatus[StatusHold])
}

func TestCommandError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := error(&CommandError{
		Kind:    ErrAuthorization,
		Command: []string{"postsuper", "-h", "-"},
		Stderr:  "postsuper: fatal: use of this command is reserved for the superuser\n",
		Err:     cause,
	})

	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrExecution))
	assert.Contains(t, err.Error(), "postsuper -h -")
	assert.Contains(t, err.Error(), "reserved for the superuser")

	var parseErr error = &ParseError{Line: 3, Text: "(oops)", Reason: "error line before any message"}
	assert.True(t, errors.Is(parseErr, ErrParse))
	assert.Contains(t, parseErr.Error(), "line 3")
}
