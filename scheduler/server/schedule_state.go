package server

import (
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/davecgh/go-spew/spew"
	"github.com/nu7hatch/gouuid"

	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/scheduler/domain"
)

// instanceState tracks one replica of one component.
type instanceState struct {
	id            string
	componentName string
	req           domain.ResourceVector

	state  domain.InstanceState
	nodeID cluster.NodeId // set while placed, "" otherwise

	// attempts counts launches that ended in failure. Evictions caused
	// by node churn do not count, the replica did nothing wrong.
	attempts int

	// runSeq increments on every launch so results from a superseded run
	// (late Wait return after an eviction) can be recognized and dropped.
	runSeq int

	timeCreated  time.Time
	timeLaunched time.Time

	// stuckTicks counts consecutive reconcile ticks this instance stayed
	// unplaceable, for the infeasibility warning.
	stuckTicks int

	// nextAttempt gates re-placement after a failure until backoff expires.
	nextAttempt      time.Time
	placementBackoff *backoff.ExponentialBackOff

	killRequested bool
	completedOk   bool
	lastReason    string
	terminalErr   error
}

func (i *instanceState) String() string {
	return fmt.Sprintf("{instance:%s, component:%s, state:%s, node:%s, attempts:%d, req:%s}",
		i.id, i.componentName, i.state, i.nodeID, i.attempts, spew.Sdump(i.req))
}

// componentState tracks all replicas of one component plus its desired count.
type componentState struct {
	spec    *domain.ComponentSpec
	desired int
}

// scheduleState is everything one supervisor owns. Only the supervisor's
// loop goroutine touches it, so no locking.
type scheduleState struct {
	spec       *domain.ScheduleSpec
	components map[string]*componentState
	instances  map[string]*instanceState
	state      domain.ScheduleState
	cancelling bool
}

func newScheduleState(spec *domain.ScheduleSpec) *scheduleState {
	s := &scheduleState{
		spec:       spec,
		components: make(map[string]*componentState),
		instances:  make(map[string]*instanceState),
		state:      domain.ScheduleActive,
	}
	for name, comp := range spec.Components {
		s.components[name] = &componentState{spec: comp}
	}
	for _, comp := range spec.ActiveComponents() {
		s.components[comp.Name].desired = comp.ReplicaCount
	}
	return s
}

// generateInstanceId returns a fresh uuid. NewV4 reads from crypto/rand and
// only fails if the OS entropy source does, so just retry.
func generateInstanceId() string {
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}

func (s *scheduleState) addInstance(componentName string, now time.Time) *instanceState {
	comp := s.components[componentName]
	inst := &instanceState{
		id:            generateInstanceId(),
		componentName: componentName,
		req:           comp.spec.ResourceRequest,
		state:         domain.Pending,
		timeCreated:   now,
	}
	s.instances[inst.id] = inst
	return inst
}

// liveCount is the number of replicas currently counting toward desired:
// anything not terminal.
func (s *scheduleState) liveCount(componentName string) int {
	n := 0
	for _, inst := range s.instances {
		if inst.componentName == componentName && !inst.state.IsTerminal() {
			n++
		}
	}
	return n
}

// completedCount is the number of replicas that ran to a clean exit.
func (s *scheduleState) completedCount(componentName string) int {
	n := 0
	for _, inst := range s.instances {
		if inst.componentName == componentName && inst.completedOk {
			n++
		}
	}
	return n
}

// deadCount is the number of replicas terminated with error, retries spent.
func (s *scheduleState) deadCount(componentName string) int {
	n := 0
	for _, inst := range s.instances {
		if inst.componentName == componentName && inst.state == domain.Terminated && inst.terminalErr != nil {
			n++
		}
	}
	return n
}

// pendingInstances returns placeable Pending instances oldest first, the
// order the allocator expects. Instances still in backoff are skipped.
func (s *scheduleState) pendingInstances(now time.Time) []*instanceState {
	var pending []*instanceState
	for _, inst := range s.instances {
		if inst.state != domain.Pending {
			continue
		}
		if now.Before(inst.nextAttempt) {
			continue
		}
		pending = append(pending, inst)
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].timeCreated.Equal(pending[j].timeCreated) {
			return pending[i].timeCreated.Before(pending[j].timeCreated)
		}
		return pending[i].id < pending[j].id
	})
	return pending
}

// residentsOn returns instances placed on the given node.
func (s *scheduleState) residentsOn(nodeID cluster.NodeId) []*instanceState {
	var residents []*instanceState
	for _, inst := range s.instances {
		if inst.nodeID == nodeID && !inst.state.IsTerminal() {
			residents = append(residents, inst)
		}
	}
	return residents
}

// status builds the per-component counts snapshot for the controller.
func (s *scheduleState) status() domain.ScheduleStatus {
	st := domain.ScheduleStatus{
		ScheduleName: s.spec.ScheduleName,
		State:        s.state,
		Components:   make(map[string]domain.ComponentStatus),
	}
	for name, comp := range s.components {
		cs := domain.ComponentStatus{Desired: comp.desired}
		for _, inst := range s.instances {
			if inst.componentName != name {
				continue
			}
			switch inst.state {
			case domain.Pending:
				cs.Pending++
			case domain.Launching:
				cs.Launching++
			case domain.Running:
				cs.Running++
			case domain.Terminated:
				if inst.completedOk {
					cs.Completed++
				} else if inst.terminalErr != nil {
					cs.FailedDead++
				}
			}
			if inst.lastReason != "" {
				cs.LastReason = inst.lastReason
			}
		}
		st.Components[name] = cs
	}
	return st
}

// quiescent reports whether nothing is in flight: no instance outside a
// terminal state.
func (s *scheduleState) quiescent() bool {
	for _, inst := range s.instances {
		if !inst.state.IsTerminal() {
			return false
		}
	}
	return true
}
