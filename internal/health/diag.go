package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemo-ai/mnemo-go/internal/provider"
)

const diagShutdownTimeout = 5 * time.Second

// DiagServer is a small loopback HTTP listener exposing liveness, readiness,
// and Prometheus metrics for local inspection. It is optional and off by
// default; the capability layer itself is in-process.
type DiagServer struct {
	log     *slog.Logger
	monitor *Monitor
	srv     *http.Server
}

// NewDiagServer constructs the listener on addr (for example
// "127.0.0.1:7432"). Metrics are served from reg.
func NewDiagServer(addr string, monitor *Monitor, reg *prometheus.Registry, log *slog.Logger) *DiagServer {
	if log == nil {
		log = slog.Default()
	}
	d := &DiagServer{log: log, monitor: monitor}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealthz)
	mux.HandleFunc("GET /readyz", d.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	d.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Run serves until ctx is canceled, then shuts down gracefully. Blocks.
func (d *DiagServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		d.log.Info("diag: listening", slog.String("addr", d.srv.Addr))
		if err := d.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), diagShutdownTimeout)
		defer cancel()
		if err := d.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// handleHealthz is pure liveness: the process is up and serving.
func (d *DiagServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// readyCheck is the per-provider entry in the /readyz body.
type readyCheck struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// readyResponse is the JSON body returned by GET /readyz.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleReadyz probes every provider and returns 200 when at least one is
// ready to serve, 503 otherwise. Unlike /healthz it reflects actual backend
// state.
func (d *DiagServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	snapshots := d.monitor.Check(r.Context())

	resp := readyResponse{}
	for name, snap := range snapshots {
		resp.Checks = append(resp.Checks, readyCheck{
			Provider: name,
			Status:   string(snap.Status),
			Message:  snap.Message,
		})
		if snap.Status == provider.StatusReady {
			resp.Ready = true
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.log.Error("diag: readyz encode error", slog.Any("error", err))
	}
}
