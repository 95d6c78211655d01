// Package fake provides in-memory NodeAgents for tests and local demos.
package fake

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/herdproject/herd/agent"
	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/scheduler/domain"
)

// Agent is an in-memory NodeAgent. Launched instances run until they are
// killed, until the configured run duration elapses, or until a scripted
// exit is delivered through Exit.
type Agent struct {
	mu        sync.Mutex
	instances map[string]chan agent.ExitStatus

	// LaunchErr, if set, is returned by every Launch call.
	LaunchErr error

	// RunDuration, if nonzero, makes instances exit 0 on their own after
	// roughly this long (with some jitter, to mimic real workloads).
	RunDuration time.Duration

	// LaunchDelay simulates slow agent calls.
	LaunchDelay time.Duration
}

func NewAgent() *Agent {
	return &Agent{instances: make(map[string]chan agent.ExitStatus)}
}

func (a *Agent) Launch(spec agent.LaunchSpec) error {
	if a.LaunchDelay > 0 {
		time.Sleep(a.LaunchDelay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.LaunchErr != nil {
		return a.LaunchErr
	}
	if _, ok := a.instances[spec.InstanceID]; ok {
		return domain.Errorf(domain.LaunchFailure, "instance %s already running", spec.InstanceID)
	}
	exitCh := make(chan agent.ExitStatus, 1)
	a.instances[spec.InstanceID] = exitCh
	if a.RunDuration > 0 {
		go func(d time.Duration) {
			time.Sleep(d)
			a.Exit(spec.InstanceID, agent.ExitStatus{})
		}(a.RunDuration + time.Duration(rand.Int63n(int64(a.RunDuration)/2+1)))
	}
	return nil
}

func (a *Agent) Wait(instanceID string) (agent.ExitStatus, error) {
	a.mu.Lock()
	exitCh, ok := a.instances[instanceID]
	a.mu.Unlock()
	if !ok {
		return agent.ExitStatus{}, domain.Errorf(domain.AgentUnreachable, "unknown instance %s", instanceID)
	}
	return <-exitCh, nil
}

func (a *Agent) Kill(instanceID string) error {
	return a.Exit(instanceID, agent.ExitStatus{Error: "killed"})
}

// Exit delivers an exit status for a running instance, unblocking Wait.
func (a *Agent) Exit(instanceID string, st agent.ExitStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	exitCh, ok := a.instances[instanceID]
	if !ok {
		return fmt.Errorf("unknown instance %s", instanceID)
	}
	delete(a.instances, instanceID)
	exitCh <- st
	return nil
}

// NumRunning returns the number of currently running instances.
func (a *Agent) NumRunning() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.instances)
}

var _ agent.NodeAgent = (*Agent)(nil)

// MakeAgentFactory returns a factory handing out one shared Agent per node.
func MakeAgentFactory(configure func(*Agent)) agent.AgentFactory {
	mu := sync.Mutex{}
	agents := map[cluster.NodeId]*Agent{}
	return func(node cluster.Node) agent.NodeAgent {
		mu.Lock()
		defer mu.Unlock()
		a, ok := agents[node.Id()]
		if !ok {
			a = NewAgent()
			if configure != nil {
				configure(a)
			}
			agents[node.Id()] = a
		}
		return a
	}
}

// MakeNoopAgentFactory hands out agents whose instances never exit on their
// own. Useful for tests that drive exits explicitly.
func MakeNoopAgentFactory() agent.AgentFactory {
	return MakeAgentFactory(nil)
}
