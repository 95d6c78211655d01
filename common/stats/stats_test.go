package stats

import (
	"testing"
	"time"
)

func TestScopedCounter(t *testing.T) {
	stat := NewStatsReceiver()
	stat.Scope("sched", "train1").Counter("launches").Inc(2)
	stat.Scope("sched").Scope("train1").Counter("launches").Inc(1)

	if got := stat.Scope("sched", "train1").Counter("launches").Count(); got != 3 {
		t.Errorf("expected scoped counter to accumulate to 3, got %d", got)
	}
}

func TestGauge(t *testing.T) {
	stat := NewStatsReceiver()
	g := stat.Gauge(ClusterReadyNodes)
	g.Update(5)
	g.Update(3)
	if g.Value() != 3 {
		t.Errorf("expected gauge to hold last value, got %d", g.Value())
	}
}

func TestLatencyStopwatch(t *testing.T) {
	stat := NewStatsReceiver()
	l := stat.Latency(SchedStepLatency_ms).Time()
	time.Sleep(time.Millisecond)
	l.Stop()
	// A second Stop without Time is a no-op.
	l.Stop()
}

func TestNilStatsReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Scope("anything").Counter("c").Inc(1)
	stat.Gauge("g").Update(1)
	stat.Latency("l").Time().Stop()
	if stat.Counter("c").Count() != 0 {
		t.Errorf("nil receiver must drop counts")
	}
}
