// Package agent defines the capability the scheduler uses to start and stop
// component instances on cluster nodes.
package agent

//go:generate mockgen -source=agent.go -package=agent -destination=agent_mock.go

import (
	"fmt"

	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/scheduler/domain"
)

// LaunchSpec carries everything a node agent needs to start one instance.
// The launch command is already fully rendered by the time it gets here.
type LaunchSpec struct {
	InstanceID      string
	ComponentName   string
	Image           string
	Command         string
	MountTarget     string
	ResourceRequest domain.ResourceVector
}

func (s *LaunchSpec) String() string {
	return fmt.Sprintf("instance:%s, component:%s, image:%s, request:%s",
		s.InstanceID, s.ComponentName, s.Image, s.ResourceRequest)
}

// ExitStatus is the agent's report of how an instance ended.
type ExitStatus struct {
	ExitCode int
	Error    string
}

func (st ExitStatus) Ok() bool {
	return st.ExitCode == 0 && st.Error == ""
}

// NodeAgent runs instances on one node. Calls may be slow network
// operations; the scheduler only ever invokes them from async runner
// goroutines, never from a control loop.
//
// Failures are returned as errors classified with domain error kinds
// (LaunchFailure, AgentUnreachable); implementations never panic across
// this boundary.
type NodeAgent interface {
	// Launch starts an instance and returns once the agent confirms the
	// start, or with an error if it could not be started.
	Launch(spec LaunchSpec) error

	// Wait blocks until the instance exits and returns its exit status.
	// The returned error reports agent reachability problems only.
	Wait(instanceID string) (ExitStatus, error)

	// Kill stops a running instance. Killing an unknown instance is an error.
	Kill(instanceID string) error
}

// AgentFactory produces the NodeAgent for a given node.
type AgentFactory func(node cluster.Node) NodeAgent
