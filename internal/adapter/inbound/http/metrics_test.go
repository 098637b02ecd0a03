package http

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// Verify all metrics are registered
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal not initialized")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration not initialized")
	}
	if m.RateLimitDecisions == nil {
		t.Error("RateLimitDecisions not initialized")
	}
	if m.ProxyUpstreamErrors == nil {
		t.Error("ProxyUpstreamErrors not initialized")
	}
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// Test counter increment
	m.RequestsTotal.WithLabelValues("POST", "200").Inc()

	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "200"))
	if count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}

	// Test decision counter
	m.RateLimitDecisions.WithLabelValues("general", "rejected").Inc()
	rejected := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("general", "rejected"))
	if rejected != 1 {
		t.Errorf("RateLimitDecisions = %v, want 1", rejected)
	}

	// Test histogram observation
	m.RequestDuration.WithLabelValues("POST").Observe(0.1)
	// Verify histogram was recorded (check it doesn't error)
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range gathered {
		if strings.Contains(mf.GetName(), "request_duration") {
			found = true
			break
		}
	}
	if !found {
		t.Error("request_duration histogram not found in gathered metrics")
	}
}

func TestRegisterKeyCount(t *testing.T) {
	reg := prometheus.NewRegistry()

	keys := 0
	RegisterKeyCount(reg, func() int { return keys })

	keys = 7
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	var got float64
	found := false
	for _, mf := range gathered {
		if mf.GetName() == "throttlegate_ratelimit_keys" {
			found = true
			got = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if !found {
		t.Fatal("throttlegate_ratelimit_keys not found in gathered metrics")
	}
	if got != 7 {
		t.Errorf("ratelimit_keys = %v, want 7 (sampled at scrape time)", got)
	}
}

func TestRegisterDecisionDrops(t *testing.T) {
	reg := prometheus.NewRegistry()

	var drops int64
	RegisterDecisionDrops(reg, func() int64 { return drops })

	drops = 3
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	var got float64
	found := false
	for _, mf := range gathered {
		if mf.GetName() == "throttlegate_decision_log_drops_total" {
			found = true
			got = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if !found {
		t.Fatal("throttlegate_decision_log_drops_total not found in gathered metrics")
	}
	if got != 3 {
		t.Errorf("decision_log_drops_total = %v, want 3 (sampled at scrape time)", got)
	}
}
