package postfix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mailq/backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, time.May, 10, 12, 0, 0, 0, time.UTC)

func TestParseQueue_SingleMessage(t *testing.T) {
	messages, err := ParseQueue([]string{"ABCDEF1234     100 Mon Jan 01 10:00:00  a@b.com"}, fixedNow)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, "ABCDEF1234", msg.QueueID())
	assert.Equal(t, domain.StatusDeferred, msg.Status)
	assert.Equal(t, int64(100), msg.Size)
	assert.Equal(t, "a@b.com", msg.Sender)
	assert.Equal(t, []string{}, msg.Recipients)
	assert.Equal(t, []string{}, msg.Errors)
	assert.Equal(t, time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC), msg.AcceptedAt)
}

func TestParseQueue_StatusMarkers(t *testing.T) {
	messages, err := ParseQueue([]string{
		"ABCDEF1234*    100 Mon Jan 01 10:00:00  a@b.com",
		"ABCDEF1235!    100 Mon Jan 01 10:00:00  a@b.com",
	}, fixedNow)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "ABCDEF1234", messages[0].QueueID())
	assert.Equal(t, domain.StatusActive, messages[0].Status)
	assert.Equal(t, "ABCDEF1235", messages[1].QueueID())
	assert.Equal(t, domain.StatusHold, messages[1].Status)
}

func TestParseQueue_RecipientsAndErrors(t *testing.T) {
	lines := []string{
		"C0004979687     4769 Mon Apr 29 06:35:05  sender@domain.com",
		"(host mx.remote1.org[1.2.3.4] said: 451 try later (in reply to RCPT TO command))",
		"                                          first.rcpt@remote1.org",
		"                                          not-an-address",
		"",
		"-- separator",
		"D00049796AB     1024 Tue Apr 30 07:00:00  MAILER-DAEMON",
		"                                          second.rcpt@remote2.org",
		"                                          third.rcpt@remote3.org",
	}

	messages, err := ParseQueue(lines, fixedNow)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	first := messages[0]
	assert.Equal(t, []string{"first.rcpt@remote1.org"}, first.Recipients)
	assert.Equal(t, []string{"host mx.remote1.org[1.2.3.4] said: 451 try later (in reply to RCPT TO command)"}, first.Errors)

	second := messages[1]
	assert.Equal(t, "MAILER-DAEMON", second.Sender)
	assert.Equal(t, []string{"second.rcpt@remote2.org", "third.rcpt@remote3.org"}, second.Recipients)
	assert.Empty(t, second.Errors)
}

func TestParseQueue_Errors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		line  int
	}{
		{"recipient before message", []string{"a@b.com"}, 1},
		{"error before message", []string{"", "(connection refused)"}, 2},
		{"bad size", []string{"ABCDEF1234  big Mon Jan 01 10:00:00  a@b.com"}, 1},
		{"bad date", []string{"ABCDEF1234  100 Mon Foo 01 10:00:00  a@b.com"}, 1},
		{"missing fields", []string{"ABCDEF1234  100 Mon Jan 01"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := ParseQueue(tt.lines, fixedNow)
			assert.Nil(t, messages)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrParse))

			var parseErr *domain.ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.line, parseErr.Line)
		})
	}
}

func TestParseQueue_Empty(t *testing.T) {
	messages, err := ParseQueue(nil, fixedNow)
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}

func TestInferDate(t *testing.T) {
	now := time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC)

	t.Run("same year", func(t *testing.T) {
		date, err := InferDate("Thu Jan  2 09:00:00", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC), date)
	})

	t.Run("future date moves back one year", func(t *testing.T) {
		date, err := InferDate("Tue Dec 30 10:00:00", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, time.December, 30, 10, 0, 0, 0, time.UTC), date)
	})

	t.Run("equal to now is kept", func(t *testing.T) {
		date, err := InferDate("Thu Jan 2 10:00:00", now)
		require.NoError(t, err)
		assert.True(t, date.Equal(now))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := InferDate("yesterday", now)
		assert.Error(t, err)
	})
}

func TestQueueLister_Load(t *testing.T) {
	output := "-Queue ID-  --Size-- ----Arrival Time---- -Sender/Recipient-------\n" +
		"ABCDEF1234*     100 Mon Jan 01 10:00:00  a@b.com\n" +
		"                                         c@d.com\n" +
		"\n" +
		"-- 1 Kbytes in 1 Request.\n"

	dir := t.TempDir()
	file := filepath.Join(dir, "listing.txt")
	require.NoError(t, os.WriteFile(file, []byte(output), 0644))

	lister := NewQueueLister(&Runner{}, []string{"cat", file}, nil)
	lister.Now = func() time.Time { return fixedNow }

	messages, err := lister.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "ABCDEF1234", messages[0].QueueID())
	assert.Equal(t, domain.StatusActive, messages[0].Status)
	assert.Equal(t, []string{"c@d.com"}, messages[0].Recipients)
	assert.Equal(t, "postqueue", lister.Name())
}

func TestQueueLister_EmptyQueue(t *testing.T) {
	lister := NewQueueLister(&Runner{}, []string{"sh", "-c", "echo 'Mail queue is empty'"}, nil)

	messages, err := lister.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestQueueLister_CommandFailure(t *testing.T) {
	lister := NewQueueLister(&Runner{}, []string{"sh", "-c", "echo 'postqueue: fatal: boom' >&2; exit 75"}, nil)

	_, err := lister.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExecution))
	assert.Contains(t, err.Error(), "postqueue: fatal: boom")

	missing := NewQueueLister(&Runner{}, []string{"/nonexistent/postqueue", "-p"}, nil)
	_, err = missing.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExecution))
	assert.Contains(t, err.Error(), "/nonexistent/postqueue")
}

func TestSnapshotLoader(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "queue.txt")
	content := "ABCDEF1234!     100 Mon Jan 01 10:00:00  a@b.com\n(held by admin)\n\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	loader := NewSnapshotLoader(file)
	loader.Now = func() time.Time { return fixedNow }

	messages, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, domain.StatusHold, messages[0].Status)
	assert.Equal(t, []string{"held by admin"}, messages[0].Errors)
	assert.Equal(t, fmt.Sprintf("file:%s", file), loader.Name())

	_, err = NewSnapshotLoader(filepath.Join(dir, "missing.txt")).Load(context.Background())
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("orphan@b.com\n"), 0644))
	_, err = NewSnapshotLoader(bad).Load(context.Background())
	assert.True(t, errors.Is(err, domain.ErrParse))
}
