package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailq/backend/internal/config"
	"mailq/backend/internal/domain"
	"mailq/backend/internal/monitoring"
	"mailq/backend/internal/service"
)

const testSnapshot = `ABCDEF1234*    100 Mon Jan 01 10:00:00  alice@example.com
                                          bob@example.org
ABCDEF1235!    2000 Mon Jan 01 11:00:00  carol@example.com
                                          dave@example.org
ABCDEF1236     500 Mon Jan 01 12:00:00  alice@example.com
(connect to mx.example.org[1.2.3.4]:25: Connection timed out)
                                          erin@example.org
`

const testAdminKey = "0f5e4a3c-admin-key"

type stubOperator struct {
	output []string
	err    error
	calls  int
}

func (s *stubOperator) Operate(ctx context.Context, op domain.Operation, messages []*domain.Message) ([]string, error) {
	s.calls++
	return s.output, s.err
}

type stubParser struct{}

func (stubParser) Parse(ctx context.Context, msg *domain.Message) error {
	msg.SetHeaders(domain.Headers{"Subject": {"queued"}})
	return nil
}

type testEnv struct {
	router   *gin.Engine
	operator *stubOperator
	dir      string
	snapshot string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue.txt"), []byte(testSnapshot), 0o644))

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{SnapshotDir: dir},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"*"}},
		Auth: config.AuthConfig{AdminKeyHash: string(hash), AdminRate: 100, AdminBurst: 100},
	}

	operator := &stubOperator{}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	queue := service.NewQueueService(service.Options{
		Reader:   stubParser{},
		Operator: operator,
		Metrics:  metrics,
		Logger:   zap.NewNop(),
	})

	router := NewRouter(RouterDependencies{
		Config:  cfg,
		Queue:   queue,
		Metrics: metrics,
		Logger:  zap.NewNop(),
	})
	return &testEnv{router: router, operator: operator, dir: dir, snapshot: "queue.txt"}
}

type testResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, header http.Header) (int, testResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		req.Header[key] = values
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp testResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func (e *testEnv) load(t *testing.T) {
	t.Helper()
	status, _ := e.do(t, http.MethodPost, "/api/v1/store/load", gin.H{"filename": e.snapshot}, adminHeader())
	require.Equal(t, http.StatusOK, status)
}

func adminHeader() http.Header {
	return http.Header{"X-Api-Key": {testAdminKey}}
}

func TestStoreEndpoints(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.do(t, http.MethodGet, "/api/v1/store", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"loaded":false`)

	status, resp = env.do(t, http.MethodGet, "/api/v1/selection", nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "队列尚未加载", resp.Msg)

	status, _ = env.do(t, http.MethodPost, "/api/v1/store/load", gin.H{"filename": env.snapshot}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/store/load", gin.H{"method": "pigeon"}, adminHeader())
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = env.do(t, http.MethodPost, "/api/v1/store/load", gin.H{"filename": env.snapshot}, adminHeader())
	require.Equal(t, http.StatusOK, status)

	var stats domain.QueueStatistics
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.True(t, stats.Loaded)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[domain.StatusHold])
}

func TestSelectionFilters(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	status, resp := env.do(t, http.MethodPost, "/api/v1/selection/filters",
		gin.H{"kind": "sender", "sender": "alice", "partial": true}, adminHeader())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "select sender: sender=alice partial=true", resp.Msg)
	assert.Contains(t, string(resp.Data), `"selected":2`)

	status, _ = env.do(t, http.MethodPost, "/api/v1/selection/filters",
		gin.H{"kind": "size", "sizes": []string{"+200"}}, adminHeader())
	require.Equal(t, http.StatusOK, status)

	t.Run("无效条件", func(t *testing.T) {
		cases := []gin.H{
			{"kind": "colour"},
			{"kind": "status", "statuses": []string{"bounced"}},
			{"kind": "date", "dates": "2025-13-01"},
			{"kind": "size", "min": 10, "max": 5},
			{"kind": "date"},
		}
		for _, body := range cases {
			status, _ := env.do(t, http.MethodPost, "/api/v1/selection/filters", body, adminHeader())
			assert.Equal(t, http.StatusBadRequest, status, "%v", body)
		}
	})

	status, resp = env.do(t, http.MethodGet, "/api/v1/selection/filters", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var filters []struct {
		Index int    `json:"index"`
		Kind  string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &filters))
	require.Len(t, filters, 2)
	assert.Equal(t, 1, filters[1].Index)
	assert.Equal(t, "size", filters[1].Kind)

	status, resp = env.do(t, http.MethodGet, "/api/v1/selection", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var view struct {
		Total    int `json:"total"`
		Messages []struct {
			QueueID string `json:"queueId"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, 1, view.Total)
	assert.Equal(t, "ABCDEF1236", view.Messages[0].QueueID)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/selection/filters/9", nil, adminHeader())
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodDelete, "/api/v1/selection/filters/x", nil, adminHeader())
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodDelete, "/api/v1/selection/filters/1", nil, adminHeader())
	assert.Equal(t, http.StatusOK, status)

	status, resp = env.do(t, http.MethodPost, "/api/v1/selection/replay", nil, adminHeader())
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"selected":2`)

	status, resp = env.do(t, http.MethodPost, "/api/v1/selection/reset", nil, adminHeader())
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"selected":3`)
}

func TestSelectionChangesRequireAdminKey(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	status, _ := env.do(t, http.MethodPost, "/api/v1/selection/filters",
		gin.H{"kind": "status", "statuses": []string{"hold"}}, adminHeader())
	require.Equal(t, http.StatusOK, status)

	requests := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodPost, "/api/v1/selection/reset", nil},
		{http.MethodPost, "/api/v1/selection/replay", nil},
		{http.MethodPost, "/api/v1/selection/filters", gin.H{"kind": "sender", "sender": "x"}},
		{http.MethodDelete, "/api/v1/selection/filters/0", nil},
		{http.MethodPost, "/api/v1/store/load", gin.H{"filename": env.snapshot}},
	}
	for _, r := range requests {
		status, _ := env.do(t, r.method, r.path, r.body, nil)
		assert.Equal(t, http.StatusUnauthorized, status, r.path)
		status, _ = env.do(t, r.method, r.path, r.body, http.Header{"X-Api-Key": {"wrong"}})
		assert.Equal(t, http.StatusUnauthorized, status, r.path)
	}

	status, resp := env.do(t, http.MethodGet, "/api/v1/selection", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"total":1`)
	assert.Contains(t, string(resp.Data), `"kind":"status"`)
}

func TestLoadSnapshotConfined(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "secret.conf"), []byte("db_password=hunter2\n"), 0o600))

	outside := filepath.Join(t.TempDir(), "queue.txt")
	require.NoError(t, os.WriteFile(outside, []byte(testSnapshot), 0o644))

	for _, name := range []string{outside, "../queue.txt", "sub/queue.txt", "..", "."} {
		status, resp := env.do(t, http.MethodPost, "/api/v1/store/load", gin.H{"filename": name}, adminHeader())
		assert.Equal(t, http.StatusBadRequest, status, name)
		assert.NotContains(t, resp.Msg, env.dir, name)
	}

	status, resp := env.do(t, http.MethodPost, "/api/v1/store/load", gin.H{"filename": "secret.conf"}, adminHeader())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "队列数据或邮件内容解析失败", resp.Msg)
	assert.NotContains(t, resp.Msg, "hunter2")
}

func TestSnapshotPath(t *testing.T) {
	_, err := SnapshotPath("", "queue.txt")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	path, err := SnapshotPath("/var/lib/mailq", "queue.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/mailq", "queue.txt"), path)

	for _, name := range []string{"", "/etc/passwd", "../queue.txt", "a/b", `a\b`, ".."} {
		_, err := SnapshotPath("/var/lib/mailq", name)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument), name)
	}
}

func TestSelectionView(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	status, resp := env.do(t, http.MethodGet, "/api/v1/selection?sortby=size&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"more":2`)
	assert.Contains(t, string(resp.Data), `"queueId":"ABCDEF1235"`)

	status, resp = env.do(t, http.MethodGet, "/api/v1/selection?rankby=sender", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `{"value":"alice@example.com","count":2}`)

	for _, query := range []string{"sortby=bogus", "rankby=bogus", "limit=-1", "limit=x", "asc=maybe"} {
		status, _ := env.do(t, http.MethodGet, "/api/v1/selection?"+query, nil, nil)
		assert.Equal(t, http.StatusBadRequest, status, query)
	}
}

func TestGetMessage(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	status, resp := env.do(t, http.MethodGet, "/api/v1/messages/ABCDEF1234", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var dump domain.MessageDump
	require.NoError(t, json.Unmarshal(resp.Data, &dump))
	assert.Equal(t, "ABCDEF1234", dump.Postqueue.QueueID)
	assert.Equal(t, []string{"queued"}, dump.Headers["Subject"])

	status, _ = env.do(t, http.MethodGet, "/api/v1/messages/ABCDEF9999", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/messages/nope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminOperate(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	status, _ := env.do(t, http.MethodPost, "/api/v1/admin/hold", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/bounce", nil, adminHeader())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, env.operator.calls)

	env.operator.output = []string{"postsuper: Placed on hold: 3 messages"}
	status, resp := env.do(t, http.MethodPost, "/api/v1/admin/hold", nil, adminHeader())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "postsuper: Placed on hold: 3 messages", resp.Msg)

	var result domain.OperationResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, domain.OperationHold, result.Operation)
	assert.Equal(t, 3, result.Count)
}

func TestAdminOperateWithFilters(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	// 共享选择被清空也不影响请求中给出的目标
	status, _ := env.do(t, http.MethodPost, "/api/v1/selection/reset", nil, adminHeader())
	require.Equal(t, http.StatusOK, status)

	body := gin.H{"filters": []gin.H{{"kind": "status", "statuses": []string{"hold"}}}}
	status, resp := env.do(t, http.MethodPost, "/api/v1/admin/delete", body, adminHeader())
	require.Equal(t, http.StatusOK, status)

	var result domain.OperationResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, 1, env.operator.calls)

	status, resp = env.do(t, http.MethodGet, "/api/v1/selection/filters", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(resp.Data))

	bad := gin.H{"filters": []gin.H{{"kind": "status", "statuses": []string{"bounced"}}}}
	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/delete", bad, adminHeader())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 1, env.operator.calls)
}

func TestAdminOperateErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"权限不足", &domain.CommandError{Kind: domain.ErrAuthorization, Command: []string{"postsuper"}}, http.StatusForbidden},
		{"命令失败", &domain.CommandError{Kind: domain.ErrExecution, Command: []string{"postsuper"}}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.load(t)
			env.operator.err = tt.err

			status, resp := env.do(t, http.MethodPost, "/api/v1/admin/delete", nil, adminHeader())
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.status, resp.Code)
			assert.Contains(t, string(resp.Data), `"operation":"delete"`)
		})
	}
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mailq_queue_messages")

	status, _ := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.InvalidArgument("x")))
	assert.Equal(t, http.StatusBadRequest, StatusFor(&domain.ParseError{Reason: "x"}))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.ErrStoreNotLoaded))
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.ErrMessageNotFound))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}
