package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangescan/internal/core/ranges"
	"rangescan/internal/domain/admin"
	"rangescan/internal/domain/auth"
	"rangescan/internal/domain/scheduler"
	"rangescan/internal/infrastructure/http/v1/dto"
	"rangescan/internal/infrastructure/http/v1/handlers"
	"rangescan/pkg/logger"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	router *gin.Engine
	store  *ranges.MemoryStore
	jwt    *auth.JWTService
	sched  *scheduler.Scheduler
}

func newFixture(t *testing.T, seed ...ranges.Range) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := ranges.NewMemoryStore(seed...)
	jwt, err := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
	require.NoError(t, err)
	sched := scheduler.New(scheduler.Config{IdleInterval: time.Millisecond}, scheduler.Deps{
		Store:    store,
		Resolver: &ranges.MockResolver{},
		Sink:     &ranges.MockSink{},
		Logger:   logger.NewNop(),
	})

	router := NewRouter(RouterConfig{
		Logger:       logger.NewNop(),
		JWTValidator: jwt,
		Admin:        admin.NewService(store, nil, logger.NewNop()),
		Scheduler:    sched,
		Control:      sched,
		Checks:       map[string]handlers.Pinger{"database": store},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Version: "test",
	})
	return &fixture{router: router, store: store, jwt: jwt, sched: sched}
}

func (f *fixture) token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, _, err := f.jwt.Issue("tester", roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "", nil).Code)

	rec := f.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = f.do(t, http.MethodGet, "/health/info", "", nil)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	assert.Contains(t, f.do(t, http.MethodGet, "/metrics", "", nil).Body.String(), "# metrics")
}

func TestHealth_ReadyFailsWhenDependencyDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(RouterConfig{
		Logger: logger.NewNop(),
		Checks: map[string]handlers.Pinger{
			"database": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestStatus(t *testing.T) {
	f := newFixture(t, ranges.Range{Key: "A", DigitWidth: 1, Status: ranges.StatusNotStarted})
	require.NoError(t, f.sched.RunCycle(context.Background()))

	rec := f.do(t, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[dto.SchedulerStatusResponse](t, rec)
	assert.Equal(t, int64(10), body.TotalAllocated)
	assert.Equal(t, int64(1), body.Completed)
	assert.Equal(t, "0.00", body.SuccessRate)
	assert.True(t, body.Running)
	require.Len(t, body.Transitions, 2)
	assert.Equal(t, "pending", body.Transitions[0].Status)
	assert.Equal(t, "completed", body.Transitions[1].Status)
}

func TestRanges_RequireToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/ranges", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[dto.ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/v1/ranges", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/ranges", f.token(t, auth.RoleViewer), dto.CreateRangeRequest{Key: "A", DigitWidth: 2})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRanges_CreateGetList(t *testing.T) {
	f := newFixture(t)
	op := f.token(t, auth.RoleOperator)

	rec := f.do(t, http.MethodPost, "/api/v1/ranges", op, dto.CreateRangeRequest{Key: "2626", DigitWidth: 5, HasSeparator: true, StartingNumber: 41217})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[dto.RangeResponse](t, rec)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "2626 41217", created.LastIdentifier)
	assert.Equal(t, int64(100000-41217), created.Remaining)

	rec = f.do(t, http.MethodPost, "/api/v1/ranges", op, dto.CreateRangeRequest{Key: "2626", DigitWidth: 5})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/ranges", op, map[string]any{"key": "X", "digitWidth": 40})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/ranges/2626", f.token(t, auth.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(41217), decode[dto.RangeResponse](t, rec).LastAllocated)

	rec = f.do(t, http.MethodGet, "/api/v1/ranges/none", op, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.store.PutRaw("BROKEN", 5, 0, false, "archived")
	rec = f.do(t, http.MethodGet, "/api/v1/ranges", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[dto.RangeListResponse](t, rec)
	assert.Equal(t, 1, list.TotalCount)
	require.Len(t, list.Rejected, 1)
	assert.Equal(t, "BROKEN", list.Rejected[0].Key)

	rec = f.do(t, http.MethodGet, "/api/v1/ranges?where="+url.QueryEscape(`status == "completed"`), op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[dto.RangeListResponse](t, rec).TotalCount)

	rec = f.do(t, http.MethodGet, "/api/v1/ranges?where="+url.QueryEscape("remaining +"), op, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRanges_ChangeStatus(t *testing.T) {
	f := newFixture(t, ranges.Range{Key: "A", DigitWidth: 2, LastAllocated: 5, Status: ranges.StatusPending})
	op := f.token(t, auth.RoleOperator)

	rec := f.do(t, http.MethodPatch, "/api/v1/ranges/A/status", op, dto.ChangeStatusRequest{Status: "not_started"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", decode[dto.ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/ranges/A/status", op, dto.ChangeStatusRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/ranges/A/status", op, dto.ChangeStatusRequest{Status: "pending"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/ranges/A/attempts", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[dto.AttemptsResponse](t, rec).Counts)
}

func TestRanges_Summary(t *testing.T) {
	f := newFixture(t,
		ranges.Range{Key: "A", DigitWidth: 2, Status: ranges.StatusNotStarted},
		ranges.Range{Key: "B", DigitWidth: 2, LastAllocated: 30, Status: ranges.StatusPending},
	)
	f.store.PutRaw("BROKEN", 5, 0, false, "archived")

	rec := f.do(t, http.MethodGet, "/api/v1/ranges/summary", f.token(t, auth.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[dto.RangeSummaryResponse](t, rec)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 1, body.Malformed)
	assert.Equal(t, 1, body.ByStatus["not_started"])
	assert.Equal(t, 1, body.ByStatus["pending"])
	assert.Equal(t, 0, body.ByStatus["completed"])
	assert.Equal(t, int64(30), body.Allocated)
	assert.Equal(t, int64(170), body.Remaining)
}

func TestScheduler_PauseResume(t *testing.T) {
	f := newFixture(t)
	op := f.token(t, auth.RoleOperator)

	rec := f.do(t, http.MethodPost, "/api/v1/scheduler/pause", f.token(t, auth.RoleViewer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, f.sched.Running())

	rec = f.do(t, http.MethodPost, "/api/v1/scheduler/pause", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.SchedulerControlResponse{Running: false, Changed: true}, decode[dto.SchedulerControlResponse](t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/scheduler/pause", op, nil)
	assert.Equal(t, dto.SchedulerControlResponse{Running: false, Changed: false}, decode[dto.SchedulerControlResponse](t, rec))

	assert.False(t, decode[dto.SchedulerStatusResponse](t, f.do(t, http.MethodGet, "/status", "", nil)).Running)

	rec = f.do(t, http.MethodPost, "/api/v1/scheduler/resume", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.SchedulerControlResponse{Running: true, Changed: true}, decode[dto.SchedulerControlResponse](t, rec))
	assert.True(t, f.sched.Running())
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(RouterConfig{Logger: logger.NewNop()})
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
