// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsTotal      *prometheus.CounterVec // labels: command, result
	ArchiveRuns        *prometheus.CounterVec // labels: outcome
	CredentialRefresh  *prometheus.CounterVec // labels: result
	CredentialConsents *prometheus.CounterVec // labels: result
	ProcessSpawns      *prometheus.CounterVec // labels: result

	// Histograms (seconds)
	CommandDuration *prometheus.HistogramVec // labels: command
	BridgeDuration  *prometheus.HistogramVec // labels: op
	UploadDuration  prometheus.Observer
	UploadBytes     prometheus.Observer

	// Gauges
	BridgeInFlight       prometheus.Gauge
	ConnectionStateGauge prometheus.Gauge // 1=connected,0=disconnected
	ProcessRunningGauge  prometheus.Gauge // 1=tracked process running
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obsrelay_commands_total", Help: "Commands handled by result"}, []string{"command", "result"})
		ArchiveRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obsrelay_archive_runs_total", Help: "Save-and-archive runs by outcome"}, []string{"outcome"})
		CredentialRefresh = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obsrelay_credential_refresh_total", Help: "Credential refresh attempts by result"}, []string{"result"})
		CredentialConsents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obsrelay_credential_consent_total", Help: "Interactive consent flows by result"}, []string{"result"})
		ProcessSpawns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obsrelay_process_spawns_total", Help: "Capture application start attempts by result"}, []string{"result"})
		CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "obsrelay_command_duration_seconds", Help: "Command handling duration seconds", Buckets: prometheus.DefBuckets}, []string{"command"})
		BridgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "obsrelay_bridge_op_duration_seconds", Help: "Duration of blocking operations run on the bridge", Buckets: prometheus.DefBuckets}, []string{"op"})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "obsrelay_upload_duration_seconds", Help: "Upload duration seconds", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}})
		UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{Name: "obsrelay_upload_bytes", Help: "Size of uploaded artifacts", Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8)})
		BridgeInFlight = promauto.NewGauge(prometheus.GaugeOpts{Name: "obsrelay_bridge_in_flight", Help: "Blocking operations currently running"})
		ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "obsrelay_obs_connected", Help: "Control connection connected=1 disconnected=0"})
		ProcessRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "obsrelay_obs_process_running", Help: "Tracked capture process running=1"})
	})
}

// RecordCommand counts a handled command and its duration.
func RecordCommand(command, result string, d time.Duration) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(command, result).Inc()
	}
	if CommandDuration != nil {
		CommandDuration.WithLabelValues(command).Observe(d.Seconds())
	}
}

// RecordArchiveOutcome counts one finished archive run.
func RecordArchiveOutcome(outcome string) {
	if ArchiveRuns != nil {
		ArchiveRuns.WithLabelValues(outcome).Inc()
	}
}

// RecordRefresh counts a credential refresh attempt.
func RecordRefresh(ok bool) {
	if CredentialRefresh != nil {
		CredentialRefresh.WithLabelValues(result(ok)).Inc()
	}
}

// RecordConsent counts an interactive consent flow.
func RecordConsent(ok bool) {
	if CredentialConsents != nil {
		CredentialConsents.WithLabelValues(result(ok)).Inc()
	}
}

// RecordSpawn counts a capture application start attempt.
func RecordSpawn(res string) {
	if ProcessSpawns != nil {
		ProcessSpawns.WithLabelValues(res).Inc()
	}
}

// ObserveBridge records the duration of one bridged operation.
func ObserveBridge(op string, d time.Duration) {
	if BridgeDuration != nil {
		BridgeDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// AddBridgeInFlight adjusts the in-flight gauge by delta.
func AddBridgeInFlight(delta float64) {
	if BridgeInFlight != nil {
		BridgeInFlight.Add(delta)
	}
}

// RecordUpload observes a finished upload.
func RecordUpload(d time.Duration, size int64) {
	if UploadDuration != nil {
		UploadDuration.Observe(d.Seconds())
	}
	if UploadBytes != nil {
		UploadBytes.Observe(float64(size))
	}
}

// SetConnected sets the connection gauge to 1 if connected else 0.
func SetConnected(connected bool) { setBool(ConnectionStateGauge, connected) }

// SetProcessRunning sets the process gauge to 1 if running else 0.
func SetProcessRunning(running bool) { setBool(ProcessRunningGauge, running) }

func setBool(g prometheus.Gauge, v bool) {
	if g == nil {
		return
	}
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
