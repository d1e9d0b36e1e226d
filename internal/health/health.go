// Package health — HTTP endpoints /healthz и /metrics сервисов mdds.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const checkTimeout = 2 * time.Second

// Checker — проверка одной зависимости.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckFunc создаёт Checker из функции.
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return checkerFunc{name: name, fn: fn}
}

// Connected создаёт Checker из флага соединения (mq.Queue.IsConnected и т.п.).
func Connected(name string, isConnected func() bool) Checker {
	return CheckFunc(name, func(context.Context) error {
		if !isConnected() {
			return errors.New("not connected")
		}
		return nil
	})
}

// Handler отвечает 200 "OK", если все проверки прошли, иначе 503 со
// списком упавших проверок.
func Handler(logger *slog.Logger, checkers ...Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		var failed []string
		for _, c := range checkers {
			if err := c.Check(ctx); err != nil {
				logger.Warn("health check failed", "checker", c.Name(), "error", err)
				failed = append(failed, fmt.Sprintf("%s: %v", c.Name(), err))
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failed, "\n")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// NewMux собирает mux с /healthz и /metrics.
func NewMux(logger *slog.Logger, checkers ...Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", Handler(logger, checkers...))
	mux.Handle("/metrics", promhttp.Handler())
	return Chain(Recovery(logger), Logging(logger))(mux)
}

// Serve запускает HTTP сервер и останавливает его при отмене ctx.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
