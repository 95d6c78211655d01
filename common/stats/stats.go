// Package stats provides a minimal scoped metrics facade backed by
// go-metrics registries.
package stats

import (
	"strings"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// StatsReceiver is the sink scheduler components record metrics to.
type StatsReceiver interface {
	// Scope returns a receiver that namespaces all stats with the given
	// path elements:
	//
	//	stat.Scope("sched", "train1").Counter("launches")  // sched/train1/launches
	Scope(scope ...string) StatsReceiver

	// Counter provides a monotonically increasing event counter.
	Counter(name ...string) Counter

	// Gauge holds an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// Latency provides a stopwatch recording durations into a timer.
	Latency(name ...string) Latency
}

type Counter interface {
	Inc(int64)
	Count() int64
}

type Gauge interface {
	Update(int64)
	Value() int64
}

// Latency records elapsed time between Time and Stop.
type Latency interface {
	Time() Latency
	Stop()
}

// NewStatsReceiver creates a receiver over a fresh go-metrics registry.
func NewStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

// NilStatsReceiver creates a receiver that drops everything, for callers
// that don't care about stats.
func NilStatsReceiver() StatsReceiver {
	return &nilStatsReceiver{}
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) scopedName(name []string) string {
	return strings.Join(append(append([]string{}, s.scope...), name...), "/")
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return metrics.GetOrRegisterCounter(s.scopedName(name), s.registry)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return metrics.GetOrRegisterGauge(s.scopedName(name), s.registry)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	return &latency{timer: metrics.GetOrRegisterTimer(s.scopedName(name), s.registry)}
}

type latency struct {
	timer metrics.Timer
	mu    sync.Mutex
	start time.Time
}

func (l *latency) Time() Latency {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = time.Now()
	return l
}

func (l *latency) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.start.IsZero() {
		return
	}
	l.timer.UpdateSince(l.start)
	l.start = time.Time{}
}

type nilStatsReceiver struct{}
type nilCounter struct{}
type nilGauge struct{}
type nilLatency struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter { return &nilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge { return &nilGauge{} }
func (s *nilStatsReceiver) Latency(name ...string) Latency { return &nilLatency{} }

func (c *nilCounter) Inc(int64)    {}
func (c *nilCounter) Count() int64 { return 0 }

func (g *nilGauge) Update(int64) {}
func (g *nilGauge) Value() int64 { return 0 }

func (l *nilLatency) Time() Latency { return l }
func (l *nilLatency) Stop()         {}
