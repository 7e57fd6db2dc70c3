package httpdispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/offlineq/internal/dispatch"
	"github.com/tonimelisma/offlineq/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type captured struct {
	method  string
	path    string
	body    string
	headers http.Header
}

type requestLog struct {
	mu   sync.Mutex
	reqs []captured
}

func (l *requestLog) All() []captured {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]captured(nil), l.reqs...)
}

// newTestServer answers every request with status and records it.
func newTestServer(t *testing.T, status int, extra http.Header) (*httptest.Server, *requestLog) {
	t.Helper()

	got := &requestLog{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		got.mu.Lock()
		got.reqs = append(got.reqs, captured{method: r.Method, path: r.URL.EscapedPath(), body: string(body), headers: r.Header.Clone()})
		got.mu.Unlock()

		for k, v := range extra {
			w.Header()[k] = v
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"details"}`))
	}))
	t.Cleanup(srv.Close)

	return srv, got
}

func newRegistry(t *testing.T, baseURL string) *dispatch.Registry {
	t.Helper()

	reg := dispatch.NewRegistry(testLogger())
	NewClient(baseURL, nil, StaticToken("secret"), testLogger(), "offlineq-test").Register(reg, "job")

	return reg
}

func TestClient_Routes(t *testing.T) {
	t.Parallel()

	srv, got := newTestServer(t, http.StatusOK, nil)
	reg := newRegistry(t, srv.URL+"/v1/")
	ctx := context.Background()
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, reg.Dispatch(ctx, &queue.Action{ID: "a1", Entity: "Job", Type: queue.ActionCreate, CreatedAt: created, Payload: json.RawMessage(`{"title":"Fix faucet"}`)}))
	require.NoError(t, reg.Dispatch(ctx, &queue.Action{ID: "a2", Entity: "job", Type: queue.ActionUpdate, CreatedAt: created, Payload: json.RawMessage(`{"id":"j 7","title":"x"}`)}))
	require.NoError(t, reg.Dispatch(ctx, &queue.Action{ID: "a3", Entity: "job", Type: queue.ActionDelete, CreatedAt: created, Payload: json.RawMessage(`{"id":42}`)}))

	reqs := got.All()
	require.Len(t, reqs, 3)

	create, update, del := reqs[0], reqs[1], reqs[2]

	assert.Equal(t, http.MethodPost, create.method)
	assert.Equal(t, "/v1/job", create.path)
	assert.JSONEq(t, `{"title":"Fix faucet"}`, create.body)
	assert.Equal(t, "a1", create.headers.Get("Idempotency-Key"))
	assert.Equal(t, "Bearer secret", create.headers.Get("Authorization"))
	assert.Equal(t, "offlineq-test", create.headers.Get("User-Agent"))
	assert.Equal(t, "application/json", create.headers.Get("Content-Type"))
	assert.Empty(t, create.headers.Get("If-Unmodified-Since"))

	assert.Equal(t, http.MethodPatch, update.method)
	assert.Equal(t, "/v1/job/j%207", update.path)
	assert.Equal(t, "Tue, 03 Feb 2026 04:05:06 GMT", update.headers.Get("If-Unmodified-Since"))

	assert.Equal(t, http.MethodDelete, del.method)
	assert.Equal(t, "/v1/job/42", del.path)
	assert.Empty(t, del.body)
}

func TestClient_OverrideDropsPrecondition(t *testing.T) {
	t.Parallel()

	srv, got := newTestServer(t, http.StatusNoContent, nil)
	reg := newRegistry(t, srv.URL)

	a := &queue.Action{ID: "a1", Entity: "job", Type: queue.ActionUpdate, CreatedAt: time.Now(), Payload: json.RawMessage(`{"id":"1"}`)}
	require.NoError(t, reg.Dispatch(dispatch.WithOverride(context.Background()), a))

	reqs := got.All()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].headers.Get("If-Unmodified-Since"))
}

func TestClient_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   int
		class    dispatch.Class
		sentinel error
	}{
		{http.StatusBadRequest, dispatch.ClassPermanent, ErrBadRequest},
		{http.StatusUnauthorized, dispatch.ClassPermanent, ErrUnauthorized},
		{http.StatusForbidden, dispatch.ClassPermanent, ErrForbidden},
		{http.StatusNotFound, dispatch.ClassPermanent, ErrNotFound},
		{http.StatusGone, dispatch.ClassPermanent, ErrGone},
		{http.StatusUnprocessableEntity, dispatch.ClassPermanent, ErrRejected},
		{http.StatusRequestTimeout, dispatch.ClassTransient, ErrRejected},
		{http.StatusTooManyRequests, dispatch.ClassTransient, ErrThrottled},
		{http.StatusInternalServerError, dispatch.ClassTransient, ErrServerError},
		{http.StatusServiceUnavailable, dispatch.ClassTransient, ErrServerError},
		{statusBandwidthExceeded, dispatch.ClassTransient, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, tt.status, http.Header{"X-Request-Id": {"req-9"}})
			reg := newRegistry(t, srv.URL)

			err := reg.Dispatch(context.Background(), &queue.Action{ID: "a", Entity: "job", Type: queue.ActionCreate, Payload: json.RawMessage(`{}`)})
			require.Error(t, err)
			assert.Equal(t, tt.class, dispatch.Classify(err))
			assert.ErrorIs(t, err, tt.sentinel)

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, "req-9", httpErr.RequestID)
			assert.Contains(t, err.Error(), `{"error":"details"}`)
		})
	}
}

func TestClient_ConflictCarriesLastModified(t *testing.T) {
	t.Parallel()

	modified := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	for _, status := range []int{http.StatusConflict, http.StatusPreconditionFailed} {
		srv, _ := newTestServer(t, status, http.Header{"Last-Modified": {modified.Format(http.TimeFormat)}})
		reg := newRegistry(t, srv.URL)

		err := reg.Dispatch(context.Background(), &queue.Action{ID: "a", Entity: "job", Type: queue.ActionUpdate, Payload: json.RawMessage(`{"id":"1"}`)})
		require.Error(t, err)
		assert.Equal(t, dispatch.ClassConflict, dispatch.Classify(err))

		var ce *dispatch.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.True(t, ce.ServerModifiedAt.Equal(modified), "status %d", status)
	}
}

func TestClient_ConflictWithoutLastModified(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, http.StatusConflict, nil)
	reg := newRegistry(t, srv.URL)

	err := reg.Dispatch(context.Background(), &queue.Action{ID: "a", Entity: "job", Type: queue.ActionCreate, Payload: json.RawMessage(`{}`)})

	var ce *dispatch.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.ServerModifiedAt.IsZero())
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	reg := newRegistry(t, url)

	err := reg.Dispatch(context.Background(), &queue.Action{ID: "a", Entity: "job", Type: queue.ActionCreate, Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.Equal(t, dispatch.ClassTransient, dispatch.Classify(err))
}

func TestClient_MissingIDIsPermanent(t *testing.T) {
	t.Parallel()

	srv, got := newTestServer(t, http.StatusOK, nil)
	reg := newRegistry(t, srv.URL)

	err := reg.Dispatch(context.Background(), &queue.Action{ID: "a", Entity: "job", Type: queue.ActionDelete, Payload: json.RawMessage(`{"title":"x"}`)})
	require.Error(t, err)
	assert.Equal(t, dispatch.ClassPermanent, dispatch.Classify(err))
	assert.Empty(t, got.All(), "no request is sent")
}

func TestClient_RegisterInstallsIDValidators(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, "http://unused")

	assert.NoError(t, reg.Validate("job", queue.ActionCreate, json.RawMessage(`{"title":"x"}`)))
	assert.Error(t, reg.Validate("job", queue.ActionUpdate, json.RawMessage(`{"title":"x"}`)))
	assert.Error(t, reg.Validate("job", queue.ActionDelete, json.RawMessage(`{"id":""}`)))
	assert.NoError(t, reg.Validate("job", queue.ActionDelete, json.RawMessage(`{"id":"3"}`)))
}

func TestClient_HandlerWithoutMeta(t *testing.T) {
	t.Parallel()

	c := NewClient("http://unused", nil, nil, testLogger(), "")
	err := c.Handler(queue.ActionCreate)(context.Background(), json.RawMessage(`{}`))
	assert.Equal(t, dispatch.ClassPermanent, dispatch.Classify(err))
}

func TestPayloadID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload string
		want    string
		wantErr bool
	}{
		{`{"id":"abc"}`, "abc", false},
		{`{"id":17}`, "17", false},
		{`{"id":null}`, "", true},
		{`{"id":"  "}`, "", true},
		{`{"id":{"x":1}}`, "", true},
		{`{}`, "", true},
		{`[1]`, "", true},
	}

	for _, tt := range tests {
		got, err := payloadID(json.RawMessage(tt.payload))
		if tt.wantErr {
			assert.Error(t, err, tt.payload)
			continue
		}

		require.NoError(t, err, tt.payload)
		assert.Equal(t, tt.want, got)
	}
}

func TestHTTPError_Message(t *testing.T) {
	t.Parallel()

	err := &HTTPError{StatusCode: 404, Message: "gone", Err: ErrNotFound}
	assert.Equal(t, "httpdispatch: HTTP 404: gone", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))

	err.RequestID = "r1"
	assert.Equal(t, "httpdispatch: HTTP 404 (request-id: r1): gone", err.Error())
}
