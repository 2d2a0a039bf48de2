package metrics_test

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/hatch/internal/metrics"
)

func TestRegistryExposesMetrics(t *testing.T) {
	t.Helper()
	job := "metrics_test_job"

	metrics.EmitBuildInfo()
	metrics.IncSpawn(job)
	metrics.IncSpawn(job)
	metrics.IncRestart(job)
	metrics.ObserveExit(job, false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}

	body := rec.Body.String()
	spawnLine := fmt.Sprintf("hatch_spawns_total{job=\"%s\"} 2", job)
	if !strings.Contains(body, spawnLine) {
		t.Fatalf("expected spawn metric line %q in body:\n%s", spawnLine, body)
	}

	restartLine := fmt.Sprintf("hatch_restarts_total{job=\"%s\"} 1", job)
	if !strings.Contains(body, restartLine) {
		t.Fatalf("expected restart metric line %q in body:\n%s", restartLine, body)
	}

	exitLine := fmt.Sprintf("hatch_exits_total{job=\"%s\",outcome=\"failure\"} 1", job)
	if !strings.Contains(body, exitLine) {
		t.Fatalf("expected exit metric line %q in body:\n%s", exitLine, body)
	}

	if !strings.Contains(body, "hatch_build_info{") {
		t.Fatalf("expected build info metric in body:\n%s", body)
	}
	if !strings.Contains(body, "go_version=") {
		t.Fatalf("expected go_version label on build info metric:\n%s", body)
	}
}
