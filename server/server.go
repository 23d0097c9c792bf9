// Package server exposes the HTTP surface: health, readiness, status, metrics,
// the operator consent flow for the upload sink, and an authenticated admin
// endpoint that runs the same commands as chat. Correlation IDs are injected
// into request contexts for consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/obs-relay/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// ctx bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())

	h := NewHandlers(deps)
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)

	mux.HandleFunc("/auth/drive/start", h.HandleDriveOAuthStart)
	mux.HandleFunc("/auth/drive/callback", h.HandleDriveOAuthCallback)

	mux.HandleFunc("/admin/obs/{command}", h.HandleAdminCommand)
	mux.HandleFunc("/admin/runs", h.HandleAdminRuns)

	protected := adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg)
	limited := rateLimitMiddleware(mux, rateLimiter)

	selective := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/admin/"), r.URL.Path == "/auth/drive/start":
			protected.ServeHTTP(w, r)
		case r.URL.Path == "/auth/drive/callback":
			limited.ServeHTTP(w, r)
		default:
			mux.ServeHTTP(w, r)
		}
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selective.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// WriteTimeout is generous because POST /admin/obs/obs_save_replay waits for the upload.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	return nil
}
