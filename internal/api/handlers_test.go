package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-core/internal/api"
	"github.com/vigilops/vigil-core/internal/cameraconf"
	"github.com/vigilops/vigil-core/internal/config"
	"github.com/vigilops/vigil-core/internal/costs"
	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/journal"
	"github.com/vigilops/vigil-core/internal/middleware"
	"github.com/vigilops/vigil-core/internal/notify"
	"github.com/vigilops/vigil-core/internal/pipeline"
	"github.com/vigilops/vigil-core/internal/ratelimit"
	"github.com/vigilops/vigil-core/internal/rules"
	"github.com/vigilops/vigil-core/internal/tokens"
)

var testSummary = costs.Summary{
	Date:            "2026-08-22",
	DailySpendUSD:   1.25,
	DailyCapUSD:     5,
	MonthlySpendUSD: 20.5,
	MonthlyCapUSD:   100,
	WithinCap:       true,
}

type stubCap struct{}

func (stubCap) Summary() costs.Summary { return testSummary }

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

type stubDepth struct{ depth int }

func (s stubDepth) QueueDepth() int { return s.depth }

// captureIntake records queued manual events instead of running the
// pipeline.
type captureIntake struct {
	mu     sync.Mutex
	events []*event.DetectionEvent
}

func (c *captureIntake) HandleEvent(ev *event.DetectionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureIntake) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *captureIntake) last() *event.DetectionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

// harness wires the full router over mock backends so tests cover
// route wiring, auth and handler behavior together. Each concern gets
// its own sqlmock connection to keep expectations independent.
type harness struct {
	router http.Handler
	tokens *tokens.Manager

	mr     *miniredis.Miniredis
	rdb    *redis.Client
	hub    *notify.Hub
	intake *captureIntake

	ruleDB    sqlmock.Sqlmock
	usageDB   sqlmock.Sqlmock
	cameraDB  sqlmock.Sqlmock
	journalDB sqlmock.Sqlmock

	resolver *cameraconf.Resolver
	latest   *pipeline.RedisLatest
}

func mockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ruleConn, ruleMock := mockDB(t)
	usageConn, usageMock := mockDB(t)
	cameraConn, cameraMock := mockDB(t)
	journalConn, journalMock := mockDB(t)

	mgr := tokens.NewManager("api-test-key")
	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	intake := &captureIntake{}
	resolver := cameraconf.NewResolver(
		data.CameraConfigModel{DB: cameraConn},
		config.CameraDefaults{AnalysisMode: "single_frame", FrameCount: 3},
		[]string{"openai", "gemini"},
		time.Minute,
	)
	latest := pipeline.NewRedisLatest(rdb)

	h := &harness{
		tokens:    mgr,
		mr:        mr,
		rdb:       rdb,
		hub:       hub,
		intake:    intake,
		ruleDB:    ruleMock,
		usageDB:   usageMock,
		cameraDB:  cameraMock,
		journalDB: journalMock,
		resolver:  resolver,
		latest:    latest,
	}

	h.router = api.NewRouter(api.RouterDeps{
		Auth:    middleware.NewJWTAuth(mgr),
		Usage:   api.NewUsageHandler(data.UsageModel{DB: usageConn}, stubCap{}),
		Journal: api.NewJournalHandler(journal.NewService(journalConn, nil)),
		Trigger: api.NewTriggerHandler(intake, ratelimit.NewLimiter(rdb, "api-test-salt"),
			ratelimit.LimitConfig{Rate: 2, Window: time.Minute}),
		Rules:   api.NewRuleHandler(data.AlertRuleModel{DB: ruleConn}, rules.NewEngine(data.AlertRuleModel{DB: ruleConn}, nil)),
		Cameras: api.NewCameraHandler(data.CameraConfigModel{DB: cameraConn}, resolver, latest),
		Stream:  api.NewStreamHandler(hub, mgr),
		Health:  api.NewHealthHandler(stubPinger{}, rdb, func() bool { return true }, stubDepth{depth: 3}),
	})
	return h
}

// do runs one request through the router; an empty role sends no
// Authorization header.
func (h *harness) do(t *testing.T, method, path, body string, role tokens.Role) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if role != "" {
		token, err := h.tokens.Generate("test-operator", role, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) asAdmin(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	return h.do(t, method, path, body, tokens.RoleAdmin)
}

func (h *harness) asViewer(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	return h.do(t, method, path, body, tokens.RoleViewer)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestRouter_RejectsMissingToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/rules", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ViewerReadsButCannotMutate(t *testing.T) {
	h := newHarness(t)

	rec := h.asViewer(t, http.MethodGet, "/api/v1/usage/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.asViewer(t, http.MethodPost, "/api/v1/rules", `{"name":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_HealthzAndMetricsArePublic(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = h.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHealth_ReportsComponents(t *testing.T) {
	h := newHarness(t)

	rec := h.asViewer(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["queue_depth"])

	components, ok := body["components"].(map[string]any)
	require.True(t, ok)
	for _, name := range []string{"postgres", "redis", "nats"} {
		comp := components[name].(map[string]any)
		assert.Equal(t, "up", comp["status"], name)
	}
}

func TestHealth_FlagsRedisDown(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	rec := h.asViewer(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	redisComp := body["components"].(map[string]any)["redis"].(map[string]any)
	assert.Equal(t, "down", redisComp["status"])
}

func TestAlertStream_RequiresToken(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/alerts/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAlertStream_DeliversBroadcasts(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	token, err := h.tokens.Generate("dashboard", tokens.RoleViewer, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/alerts/stream?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	h.hub.Broadcast(notify.AlertMessage{Type: "alert", RuleName: "gate watch"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg notify.AlertMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "gate watch", msg.RuleName)
}
