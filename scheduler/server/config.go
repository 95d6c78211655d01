package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// SchedulerConfiguration carries the tunables for schedule control loops.
// Zero values are replaced by defaults in NewScheduleController, so callers
// only set the fields they care about.
type SchedulerConfiguration struct {
	// TickRate is how often an idle supervisor loop wakes to reconcile.
	TickRate time.Duration

	// MaxAttemptsPerInstance bounds launch attempts per replica before it
	// is marked dead. An eviction caused by node loss does not count as
	// an attempt.
	MaxAttemptsPerInstance int

	// LaunchTimeout converts an instance stuck in Launching into a
	// synthetic launch failure.
	LaunchTimeout time.Duration

	// PlacementBackoffInitial and PlacementBackoffMax bound the
	// exponential backoff applied between launch attempts of one replica.
	PlacementBackoffInitial time.Duration
	PlacementBackoffMax     time.Duration

	// InfeasibleWarnTicks is how many consecutive unplaceable ticks a
	// pending instance accrues before the supervisor warns about it.
	InfeasibleWarnTicks int

	// EventBuffer is the capacity of each supervisor's inbound event
	// channel.
	EventBuffer int

	// MaxActiveSchedules caps the number of schedules reconciling at
	// once. Further schedules queue FIFO until a slot frees. Zero means
	// unlimited.
	MaxActiveSchedules int

	// DebugMode starts supervisors without their loop goroutine so tests
	// can drive step() manually.
	DebugMode bool
}

const (
	defaultTickRate                = 250 * time.Millisecond
	defaultMaxAttemptsPerInstance  = 3
	defaultLaunchTimeout           = 2 * time.Minute
	defaultPlacementBackoffInitial = 500 * time.Millisecond
	defaultPlacementBackoffMax     = 30 * time.Second
	defaultInfeasibleWarnTicks     = 40
	defaultEventBuffer             = 100
)

// withDefaults returns a copy with zero fields replaced by defaults.
func (c SchedulerConfiguration) withDefaults() SchedulerConfiguration {
	if c.TickRate == 0 {
		c.TickRate = defaultTickRate
	}
	if c.MaxAttemptsPerInstance == 0 {
		c.MaxAttemptsPerInstance = defaultMaxAttemptsPerInstance
	}
	if c.LaunchTimeout == 0 {
		c.LaunchTimeout = defaultLaunchTimeout
	}
	if c.PlacementBackoffInitial == 0 {
		c.PlacementBackoffInitial = defaultPlacementBackoffInitial
	}
	if c.PlacementBackoffMax == 0 {
		c.PlacementBackoffMax = defaultPlacementBackoffMax
	}
	if c.InfeasibleWarnTicks == 0 {
		c.InfeasibleWarnTicks = defaultInfeasibleWarnTicks
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}

func (c SchedulerConfiguration) String() string {
	return fmt.Sprintf(
		"SchedulerConfiguration: TickRate: %v, MaxAttemptsPerInstance: %d, LaunchTimeout: %v, "+
			"PlacementBackoffInitial: %v, PlacementBackoffMax: %v, InfeasibleWarnTicks: %d, EventBuffer: %d, "+
			"MaxActiveSchedules: %d, DebugMode: %t",
		c.TickRate, c.MaxAttemptsPerInstance, c.LaunchTimeout,
		c.PlacementBackoffInitial, c.PlacementBackoffMax, c.InfeasibleWarnTicks, c.EventBuffer,
		c.MaxActiveSchedules, c.DebugMode)
}

// ParseSchedulerConfiguration decodes a JSON config blob. Durations are
// expressed in Go duration syntax ("30s", "2m"). Unset fields default.
func ParseSchedulerConfiguration(data []byte) (SchedulerConfiguration, error) {
	var raw struct {
		TickRate                string
		MaxAttemptsPerInstance  int
		LaunchTimeout           string
		PlacementBackoffInitial string
		PlacementBackoffMax     string
		InfeasibleWarnTicks     int
		EventBuffer             int
		MaxActiveSchedules      int
		DebugMode               bool
	}
	var c SchedulerConfiguration
	if err := json.Unmarshal(data, &raw); err != nil {
		return c, errors.Wrap(err, "parsing scheduler configuration")
	}
	durs := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"TickRate", raw.TickRate, &c.TickRate},
		{"LaunchTimeout", raw.LaunchTimeout, &c.LaunchTimeout},
		{"PlacementBackoffInitial", raw.PlacementBackoffInitial, &c.PlacementBackoffInitial},
		{"PlacementBackoffMax", raw.PlacementBackoffMax, &c.PlacementBackoffMax},
	}
	for _, d := range durs {
		if d.in == "" {
			continue
		}
		dur, err := time.ParseDuration(d.in)
		if err != nil {
			return c, errors.Wrapf(err, "parsing scheduler configuration field %s", d.name)
		}
		*d.out = dur
	}
	c.MaxAttemptsPerInstance = raw.MaxAttemptsPerInstance
	c.InfeasibleWarnTicks = raw.InfeasibleWarnTicks
	c.EventBuffer = raw.EventBuffer
	c.MaxActiveSchedules = raw.MaxActiveSchedules
	c.DebugMode = raw.DebugMode
	return c, nil
}
