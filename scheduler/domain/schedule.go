package domain

import (
	"fmt"
)

// AllocationMode selects how component replicas are spread over nodes.
type AllocationMode int

const (
	// Balanced spreads replicas evenly, preferring the node with the most
	// free capacity along the balancing metric.
	Balanced AllocationMode = iota

	// Compacted packs replicas onto the fullest feasible nodes first to
	// minimize the number of nodes touched.
	Compacted
)

func (m AllocationMode) String() string {
	switch m {
	case Balanced:
		return "single-metric-balanced"
	case Compacted:
		return "single-metric-compacted"
	default:
		return fmt.Sprintf("AllocationMode(%d)", int(m))
	}
}

// ParseAllocationMode converts the configured mode name to an AllocationMode.
func ParseAllocationMode(name string) (AllocationMode, error) {
	switch name {
	case "single-metric-balanced":
		return Balanced, nil
	case "single-metric-compacted":
		return Compacted, nil
	}
	return Balanced, fmt.Errorf("unknown allocation mode %q", name)
}

// ComponentSpec describes one named component of a schedule, e.g. the
// "actor" or "learner" role of a training job. Immutable once accepted.
type ComponentSpec struct {
	Name            string
	Image           string
	ResourceRequest ResourceVector
	ReplicaCount    int
	MountTarget     string
	LaunchCommand   string
}

func (c *ComponentSpec) String() string {
	return fmt.Sprintf("component:%s, image:%s, request:%s, replicas:%d",
		c.Name, c.Image, c.ResourceRequest, c.ReplicaCount)
}

// ScheduleSpec is the declarative contract the scheduler consumes. It is
// produced by the config-parsing collaborator, already typed and normalized.
// A new schedule version requires a new ScheduleSpec; there is no in-place
// mutation.
type ScheduleSpec struct {
	ScheduleName    string
	AllocationMode  AllocationMode
	BalancingMetric Metric

	// JobNames selects which components participate in reconciliation.
	// Components defined but not named here are inactive (desired=0).
	JobNames []string

	Components map[string]*ComponentSpec
}

func (s *ScheduleSpec) String() string {
	return fmt.Sprintf("schedule:%s, mode:%s, metric:%s, jobNames:%v, components:%d",
		s.ScheduleName, s.AllocationMode, s.BalancingMetric, s.JobNames, len(s.Components))
}

// Validate checks the invariants the scheduler relies on: non-empty name,
// unique job names, and per-component replica counts of at least one.
func (s *ScheduleSpec) Validate() error {
	if s.ScheduleName == "" {
		return fmt.Errorf("schedule name must not be empty")
	}
	seen := map[string]bool{}
	for _, name := range s.JobNames {
		if seen[name] {
			return fmt.Errorf("duplicate job name %q in schedule %s", name, s.ScheduleName)
		}
		seen[name] = true
	}
	for name, comp := range s.Components {
		if comp == nil {
			return fmt.Errorf("component %q of schedule %s has no spec", name, s.ScheduleName)
		}
		if comp.Name != name {
			return fmt.Errorf("component key %q does not match component name %q", name, comp.Name)
		}
		if comp.ReplicaCount < 1 {
			return fmt.Errorf("component %q of schedule %s has replica count %d, must be >= 1",
				name, s.ScheduleName, comp.ReplicaCount)
		}
	}
	for _, jobName := range s.JobNames {
		if _, ok := s.Components[jobName]; !ok {
			return fmt.Errorf("job name %q of schedule %s does not resolve to a component", jobName, s.ScheduleName)
		}
	}
	return nil
}

// ActiveComponents returns the components selected by JobNames, in JobNames order.
func (s *ScheduleSpec) ActiveComponents() []*ComponentSpec {
	active := make([]*ComponentSpec, 0, len(s.JobNames))
	for _, name := range s.JobNames {
		if comp, ok := s.Components[name]; ok {
			active = append(active, comp)
		}
	}
	return active
}
