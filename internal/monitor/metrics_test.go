package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"execution-core/internal/events"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.StreamMessage("kline")
	m.SafetyInstall("secured")
	m.SetTrackerCounts(map[string]int{"SECURED": 1})
	m.ObserveDecision(time.Millisecond)
	if snap := m.Runtime(); snap.GoroutineCount == 0 {
		t.Fatal("runtime snapshot should report goroutines")
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.StreamMessage("kline")
	m.StreamMessage("kline")
	m.SafetyInstall("failed")

	if got := counterValue(t, m, "engine_stream_messages_total", "kline"); got != 2 {
		t.Fatalf("kline messages=%v", got)
	}
	if got := counterValue(t, m, "engine_safety_installs_total", "failed"); got != 1 {
		t.Fatalf("failed installs=%v", got)
	}
}

func counterValue(t *testing.T, m *Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 20, 30, 40} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 || s.Min != 20 || s.Max != 40 || s.Avg != 30 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestMonitorThrottlesWhaleAlerts(t *testing.T) {
	bus := events.NewBus()
	alerts := make(chan string, 4)
	m := &Monitor{
		Bus:         bus,
		AlertFn:     func(_ context.Context, msg string) { alerts <- msg },
		MinInterval: time.Hour,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for bus.Subscribers(events.EventWhaleTrade) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	w := events.WhaleTrade{Symbol: "BTC/USDT", Side: "BUY", Price: 50000, Qty: 30, Notional: 1_500_000}
	bus.Publish(events.EventWhaleTrade, w)
	bus.Publish(events.EventWhaleTrade, w)

	select {
	case msg := <-alerts:
		if !strings.Contains(msg, "BTC/USDT") {
			t.Fatalf("alert %q missing symbol", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert")
	}
	select {
	case msg := <-alerts:
		t.Fatalf("second alert should be throttled: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
