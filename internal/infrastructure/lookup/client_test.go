package lookup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangescan/internal/core/ranges"
	"rangescan/pkg/logger"
)

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Timeout = time.Second
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	return cfg
}

func TestClient_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/getUkscno", r.URL.Path)
		assert.Equal(t, "2626 00007", r.FormValue("ukscno"))
		assert.Contains(t, r.Header.Get("Referer"), "/knowyourusn")
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		_, _ = w.Write([]byte(resultPage))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), srv.Client())
	out, err := c.Resolve(context.Background(), " 2626 00007 ")

	require.NoError(t, err)
	assert.Equal(t, ranges.Outcome{Identifier: "2626 00007", Found: true, Payload: "9876543210", Attempts: 1}, out)
}

func TestClient_NotMatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>USN doesn't matched</p></body></html>`))
	}))
	defer srv.Close()

	out, err := NewClient(testConfig(srv.URL), srv.Client()).Resolve(context.Background(), "2626 00001")

	require.NoError(t, err)
	assert.False(t, out.Found)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), srv.Client()).Resolve(context.Background(), "2626 00001")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.True(t, se.Temporary())
}

func TestClient_TimeoutMapsToErrTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	_, err := NewClient(cfg, srv.Client()).Resolve(context.Background(), "2626 00001")

	assert.ErrorIs(t, err, ranges.ErrTimeout)
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/knowyourusn" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(testConfig(srv.URL), srv.Client()).Health(context.Background()))

	cfg := testConfig(srv.URL)
	cfg.FormPath = "/missing"
	assert.Error(t, NewClient(cfg, srv.Client()).Health(context.Background()))
}

func TestRetrying_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(resultPage))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	r := NewRetrying(NewClient(cfg, srv.Client()), 3, cfg.InitialInterval, cfg.MaxInterval, logger.NewNop())
	out, err := r.Resolve(context.Background(), "2626 00008")

	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Equal(t, "9123456789", out.Payload)
	assert.Equal(t, 3, out.Attempts)
}

func TestRetrying_GivesUpAfterMaxAttempts(t *testing.T) {
	m := failingResolver(errors.New("connection reset"))
	r := NewRetrying(m, 3, time.Millisecond, time.Millisecond, logger.NewNop())

	out, err := r.Resolve(context.Background(), "2626 00001")

	assert.Error(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, m.Calls(), 3)
}

func TestRetrying_ClientErrorsArePermanent(t *testing.T) {
	m := failingResolver(&StatusError{Code: http.StatusForbidden})
	r := NewRetrying(m, 3, time.Millisecond, time.Millisecond, logger.NewNop())

	out, err := r.Resolve(context.Background(), "2626 00001")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, out.Attempts)
}

func TestNew_DisabledNeverCallsOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.BaseURL = "http://127.0.0.1:1"

	out, err := New(cfg, logger.NewNop()).Resolve(context.Background(), "2626 00001")

	require.NoError(t, err)
	assert.Equal(t, ranges.Outcome{Identifier: "2626 00001"}, out)
}

func failingResolver(err error) *ranges.MockResolver {
	return &ranges.MockResolver{ResolveFunc: func(context.Context, string) (ranges.Outcome, error) {
		return ranges.Outcome{}, err
	}}
}
