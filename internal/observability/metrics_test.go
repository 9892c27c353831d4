package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordCommand("L", "ok", 24*time.Millisecond)
	RecordCommand("L", "timeout", 0)
	RecordEviction("transport")
	SetActiveLinks(2)
	RecordValidation("admitted")
	RecordReplugState("counting")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "bittyctl_link_active" {
			found = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 2 {
				t.Fatalf("unexpected active links gauge: %v", got)
			}
		}
	}
	if !found {
		t.Fatalf("active links gauge not registered")
	}

	logging.Logf("observability/metrics: registration idempotent and recording paths executed")
}
