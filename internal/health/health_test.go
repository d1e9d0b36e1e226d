package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz_AllHealthy(t *testing.T) {
	h := NewMux(quietLogger(),
		Connected("rabbitmq", func() bool { return true }),
		CheckFunc("store", func(context.Context) error { return nil }),
	)

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealthz_NoCheckers(t *testing.T) {
	rec := get(t, NewMux(quietLogger()), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz_Failing(t *testing.T) {
	h := NewMux(quietLogger(),
		Connected("rabbitmq", func() bool { return false }),
		CheckFunc("store", func(context.Context) error { return nil }),
		CheckFunc("solver", func(context.Context) error { return errors.New("TRANSIENT_FAILURE") }),
	)

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "rabbitmq: not connected")
	assert.Contains(t, body, "solver: TRANSIENT_FAILURE")
	assert.NotContains(t, body, "store")
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, NewMux(quietLogger()), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecovery(t *testing.T) {
	h := Recovery(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	get(t, h, "/")

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, "127.0.0.1:0", NewMux(quietLogger()), quietLogger())
	}()

	cancel()
	assert.NoError(t, <-errCh)
}
