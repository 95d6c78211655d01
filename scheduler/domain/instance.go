package domain

import (
	"fmt"
	"time"
)

// InstanceState is the lifecycle state of one component replica's runtime record.
type InstanceState int

const (
	// Pending, waiting for the allocator to place it on a node.
	Pending InstanceState = iota

	// Launching, placed and waiting for the node agent to confirm the start.
	Launching

	// Running on a node.
	Running

	// Failed, the agent reported an abnormal exit. Retryable until the
	// attempt budget is exhausted.
	Failed

	// Terminated, the only terminal state. Reached on normal completion,
	// cancellation, or retry exhaustion.
	Terminated
)

func (s InstanceState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Launching:
		return "Launching"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("InstanceState(%d)", int(s))
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s InstanceState) IsTerminal() bool {
	return s == Terminated
}

// InstanceEvent records one state transition of an instance, emitted by the
// supervisor for external consumers in the order the transitions were applied.
type InstanceEvent struct {
	InstanceID    string
	ComponentName string
	ScheduleName  string
	OldState      InstanceState
	NewState      InstanceState
	Timestamp     time.Time
	Reason        string
}

func (e *InstanceEvent) String() string {
	return fmt.Sprintf("instance:%s, component:%s, %s -> %s, reason:%s",
		e.InstanceID, e.ComponentName, e.OldState, e.NewState, e.Reason)
}

// ScheduleState is the aggregate state of one schedule.
type ScheduleState int

const (
	// ScheduleActive, components are being reconciled.
	ScheduleActive ScheduleState = iota

	// ScheduleCancelling, a cancel was received and instances are draining.
	ScheduleCancelling

	// ScheduleCompleted, every component has zero desired and zero live instances.
	ScheduleCompleted

	// ScheduleFailed, a component exhausted its retries or the loop hit an
	// invariant violation. State is frozen for inspection.
	ScheduleFailed

	// ScheduleQueued, accepted but waiting for an active-schedule slot.
	ScheduleQueued
)

func (s ScheduleState) String() string {
	switch s {
	case ScheduleActive:
		return "Active"
	case ScheduleCancelling:
		return "Cancelling"
	case ScheduleCompleted:
		return "Completed"
	case ScheduleFailed:
		return "Failed"
	case ScheduleQueued:
		return "Queued"
	default:
		return fmt.Sprintf("ScheduleState(%d)", int(s))
	}
}

// IsDone reports whether the schedule reached a terminal state.
func (s ScheduleState) IsDone() bool {
	return s == ScheduleCompleted || s == ScheduleFailed
}

// ComponentStatus is a read-only per-component snapshot by instance state.
type ComponentStatus struct {
	Desired    int
	Pending    int
	Launching  int
	Running    int
	Completed  int
	FailedDead int // Terminated with error, retries exhausted
	LastReason string
}

// ScheduleStatus is the aggregated snapshot the controller serves to
// external consumers.
type ScheduleStatus struct {
	ScheduleName string
	State        ScheduleState
	Components   map[string]ComponentStatus
}
