package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestEngineMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.EventsApplied.WithLabelValues("follow", "create").Inc()
	m.EventsApplied.WithLabelValues("follow", "create").Inc()
	m.EventsSkipped.WithLabelValues(SkipValidation).Inc()
	m.BlocksTotal.Inc()
	m.SideEffects.Add(3)
	m.CommitSeconds.Observe(0.05)

	if got := gatherCounter(t, reg, "melodex_engine_events_applied_total"); got != 2 {
		t.Fatalf("events applied %v, want 2", got)
	}
	if got := gatherCounter(t, reg, "melodex_engine_side_effects_flushed_total"); got != 3 {
		t.Fatalf("side effects %v, want 3", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() != "melodex_engine_events_skipped_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelValue(metric, "reason") == SkipValidation {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("skip reason label missing")
	}
}

func TestNewEngineMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewEngineMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Fatal("second registration did not panic")
		}
	}()
	NewEngineMetrics(reg)
}
