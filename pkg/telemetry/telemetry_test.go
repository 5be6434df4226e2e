package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesStructuredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	logger, err := NewLogger(LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.WithRunID("run-1").WithIdentity("EMP001").Info("transition accepted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"run-1"`)
	assert.Contains(t, string(data), `"identity":"EMP001"`)
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	logger, err := NewLogger(LoggingConfig{
		Level:  "warn",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("suppressed")
	logger.Warn("kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "suppressed")
	assert.Contains(t, string(data), "kept")
}

func TestNewMetricsExposesRecordedSeries(t *testing.T) {
	metrics, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "ilae",
	})
	require.NoError(t, err)

	metrics.RunStarted("JOIN")
	metrics.StepCompleted("github", "grant", "succeeded")
	metrics.RecordStepAttempt("github", "grant", "transient")
	metrics.RecordEvidenceAppend("ok")
	metrics.RunCompleted("JOIN", "completed", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "ilae_runs_started_total")
	assert.Contains(t, body, "ilae_runs_completed_total")
	assert.Contains(t, body, "ilae_run_duration_seconds")
	assert.Contains(t, body, "ilae_steps_executed_total")
	assert.Contains(t, body, "ilae_step_attempts_total")
	assert.Contains(t, body, "ilae_errors_by_class_total")
	assert.Contains(t, body, "ilae_evidence_appends_total")
	assert.Contains(t, body, "ilae_active_runs 0")
}

func TestDisabledMetricsAreInert(t *testing.T) {
	metrics, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	// Recording on a disabled instance is a no-op, not a panic.
	metrics.RunStarted("JOIN")
	metrics.RunCompleted("JOIN", "completed", time.Millisecond)
	metrics.StepCompleted("github", "grant", "succeeded")
	metrics.RecordStepAttempt("github", "grant", "")
	metrics.RecordEvidenceAppend("ok")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewTracerWithoutExportStartsSpans(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{
		Enabled:      true,
		Exporter:     "none",
		SamplingRate: 1.0,
	}, "ilae", "test", "test")
	require.NoError(t, err)
	defer func() { require.NoError(t, tracer.Shutdown(context.Background())) }()

	ctx, span := tracer.StartRunSpan(context.Background(), "run-1", "JOIN")
	require.NotNil(t, span)
	assert.NotEmpty(t, TraceID(ctx))
	RecordSuccess(span)
	span.End()
}

func TestNewTracerRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracer(TracingConfig{
		Enabled:  true,
		Exporter: "bogus",
	}, "ilae", "test", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, ProductionConfig().Validate())

	bad := DefaultConfig()
	bad.Logging.Level = "loud"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Tracing.SamplingRate = 2.0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Metrics.ListenAddress = ""
	assert.Error(t, bad.Validate())
}
