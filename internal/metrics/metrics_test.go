package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.SOCKS5ConnectionsActive == nil {
		t.Error("SOCKS5ConnectionsActive metric is nil")
	}
	if m.BytesClientToTarget == nil {
		t.Error("BytesClientToTarget metric is nil")
	}
}

func TestSOCKS5ConnectionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SOCKS5ConnectionOpened()
	m.SOCKS5ConnectionOpened()

	if got := testutil.ToFloat64(m.SOCKS5ConnectionsActive); got != 2 {
		t.Errorf("SOCKS5ConnectionsActive = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SOCKS5ConnectionsTotal); got != 2 {
		t.Errorf("SOCKS5ConnectionsTotal = %v, want 2", got)
	}

	m.SOCKS5ConnectionClosed()
	if got := testutil.ToFloat64(m.SOCKS5ConnectionsActive); got != 1 {
		t.Errorf("SOCKS5ConnectionsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SOCKS5ConnectionsTotal); got != 2 {
		t.Errorf("SOCKS5ConnectionsTotal should not decrease, got %v", got)
	}
}

func TestSOCKS5AuthFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SOCKS5AuthFailure()
	m.SOCKS5AuthFailure()

	if got := testutil.ToFloat64(m.SOCKS5AuthFailuresTotal); got != 2 {
		t.Errorf("SOCKS5AuthFailuresTotal = %v, want 2", got)
	}
}

func TestSOCKS5ConnectLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SOCKS5ConnectLatency(50 * time.Millisecond)

	var metric dto.Metric
	if err := m.SOCKS5ConnectLatencyHist.Write(&metric); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("expected one latency observation, got %d", got)
	}
}

func TestSOCKS5BytesTransferred(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SOCKS5BytesTransferred(100, 0)
	m.SOCKS5BytesTransferred(0, 200)
	m.SOCKS5BytesTransferred(50, 50)

	if got := testutil.ToFloat64(m.BytesClientToTarget); got != 150 {
		t.Errorf("BytesClientToTarget = %v, want 150", got)
	}
	if got := testutil.ToFloat64(m.BytesTargetToClient); got != 250 {
		t.Errorf("BytesTargetToClient = %v, want 250", got)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	first := Default()
	second := Default()
	if first != second {
		t.Error("Default() returned different instances across calls")
	}
}
