package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
)

const (
	healthStatusOK          = "ok"
	healthStatusUnavailable = "unavailable"
)

// ReadyCheck reports whether a subsystem is ready. It returns nil when
// the check passes, or an error describing the failure.
type ReadyCheck func(ctx context.Context) error

// DiagnosticsServer exposes liveness, readiness, and Prometheus metrics
// endpoints over HTTP for the daemon's operational monitoring.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
}

// NewDiagnosticsServer starts an HTTP server at addr with /healthz and
// /readyz endpoints. When metrics is non-nil it is served at /metrics.
// Readiness checks run on every /readyz request.
func NewDiagnosticsServer(addr string, metrics http.Handler, checks ...ReadyCheck) (*DiagnosticsServer, error) {
	mux := http.NewServeMux()

	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(checks...))

	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Warn("diagnostics server stopped", "error", serveErr)
		}
	}()

	return &DiagnosticsServer{server: srv, listener: listener}, nil
}

// Addr returns the address the server is listening on.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Close gracefully shuts down the diagnostics server.
func (d *DiagnosticsServer) Close() error {
	err := d.server.Shutdown(context.Background())
	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}

// HealthHandler returns an [http.Handler] for liveness checks at
// /healthz. It always returns HTTP 200 with {"status":"ok"}.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusOK)
		writeStatusJSON(rw, healthStatusOK, nil)
	})
}

// ReadyHandler returns an [http.Handler] for readiness checks at
// /readyz. It runs all provided checks; the first failure yields HTTP
// 503 with the failing error. No checks, or all passing, yields 200.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		rw.Header().Set("Content-Type", "application/json")

		for _, check := range checks {
			err := check(hr.Context())
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				writeStatusJSON(rw, healthStatusUnavailable, err)

				return
			}
		}

		rw.WriteHeader(http.StatusOK)
		writeStatusJSON(rw, healthStatusOK, nil)
	})
}

func writeStatusJSON(w io.Writer, status string, cause error) {
	payload := map[string]string{"status": status}
	if cause != nil {
		payload["error"] = cause.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	_, _ = w.Write(data)
}
