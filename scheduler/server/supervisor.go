package server

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/herdproject/herd/agent"
	"github.com/herdproject/herd/async"
	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/common/log/hooks"
	"github.com/herdproject/herd/common/stats"
	"github.com/herdproject/herd/scheduler/domain"
)

// Used to get proper logging from tests
func init() {
	if loglevel := os.Getenv("HERD_LOGLEVEL"); loglevel != "" {
		level, err := log.ParseLevel(loglevel)
		if err != nil {
			log.Error(err)
			return
		}
		log.SetLevel(level)
		log.AddHook(hooks.NewContextHook())
	} else {
		log.SetLevel(log.ErrorLevel)
	}
}

// instanceSupervisor owns one schedule's instance state machine.
//
// Concurrency: the supervisor runs an update loop in its own goroutine,
// woken by a tick or an incoming event. Slow agent calls run through an
// async.Runner in their own goroutines and must not touch supervisor state;
// their callbacks execute inside step() via ProcessMessages and may read and
// modify state freely. External callers only enqueue onto channels or read
// the status snapshot.
type instanceSupervisor struct {
	sched        *scheduleState
	catalog      *NodeCatalog
	agentFactory agent.AgentFactory
	asyncRunner  async.Runner
	config       SchedulerConfiguration
	stat         stats.StatsReceiver
	eventSink    func(domain.InstanceEvent)

	// agents holds the node agent handle for each placed instance so
	// kill and wait go to the same endpoint the launch went to.
	agents map[string]agent.NodeAgent

	cancelCh     chan struct{}
	nodeUpdateCh chan []cluster.NodeUpdate
	wakeCh       chan struct{}
	doneCh       chan struct{}
	doneOnce     sync.Once

	// frozen is set after an invariant violation. The loop stops
	// reconciling and leaves the state untouched for inspection.
	frozen bool

	now func() time.Time

	statusMu   sync.Mutex
	lastStatus domain.ScheduleStatus
}

// newInstanceSupervisor builds a supervisor for the given spec and starts
// its loop, unless config.DebugMode is set, in which case tests advance it
// manually with step().
func newInstanceSupervisor(
	spec *domain.ScheduleSpec,
	catalog *NodeCatalog,
	af agent.AgentFactory,
	config SchedulerConfiguration,
	stat stats.StatsReceiver,
	eventSink func(domain.InstanceEvent),
) *instanceSupervisor {
	s := &instanceSupervisor{
		sched:        newScheduleState(spec),
		catalog:      catalog,
		agentFactory: af,
		asyncRunner:  async.NewRunner(),
		config:       config,
		stat:         stat,
		eventSink:    eventSink,
		agents:       make(map[string]agent.NodeAgent),
		cancelCh:     make(chan struct{}, 1),
		nodeUpdateCh: make(chan []cluster.NodeUpdate, config.EventBuffer),
		wakeCh:       make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		now:          time.Now,
	}
	s.publishStatus()
	if !config.DebugMode {
		go s.loop()
	}
	return s
}

// cancel requests a drain to zero instances. Idempotent, one pending
// cancel is as good as many.
func (s *instanceSupervisor) cancel() {
	select {
	case s.cancelCh <- struct{}{}:
	default:
	}
	s.wake()
}

// offerNodeUpdates hands cluster churn to this supervisor's loop. Updates
// are dropped with a warning if the loop is done or hopelessly behind; the
// catalog is already consistent either way.
func (s *instanceSupervisor) offerNodeUpdates(updates []cluster.NodeUpdate) {
	select {
	case <-s.doneCh:
		return
	case s.nodeUpdateCh <- updates:
		s.wake()
	default:
		log.WithFields(log.Fields{"schedule": s.sched.spec.ScheduleName}).
			Warn("Supervisor event queue full, dropping node updates")
	}
}

func (s *instanceSupervisor) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// status returns the snapshot published at the end of the last step. Safe
// from any goroutine.
func (s *instanceSupervisor) status() domain.ScheduleStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.lastStatus
}

func (s *instanceSupervisor) done() <-chan struct{} {
	return s.doneCh
}

func (s *instanceSupervisor) loop() {
	ticker := time.NewTicker(s.config.TickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-s.wakeCh:
		}
		s.step()
		select {
		case <-s.doneCh:
			return
		default:
		}
	}
}

// step runs one loop iteration: fold in queued events and completed agent
// calls, then reconcile desired against live. A panic here is an invariant
// violation. It freezes this schedule only, the process and the other
// schedule loops keep going.
func (s *instanceSupervisor) step() {
	defer s.stat.Latency(stats.SchedStepLatency_ms).Time().Stop()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"schedule": s.sched.spec.ScheduleName,
				"panic":    fmt.Sprint(r),
			}).Error("Invariant violation, freezing schedule")
			s.sched.state = domain.ScheduleFailed
			s.frozen = true
			s.publishStatus()
			s.maybeFinish()
		}
	}()

	s.processEvents()
	s.asyncRunner.ProcessMessages()
	if s.frozen || s.sched.state.IsDone() {
		s.publishStatus()
		s.maybeFinish()
		return
	}
	s.checkLaunchTimeouts()
	s.reconcile()
	s.updateGauges()
	s.checkCompletion()
	s.publishStatus()
	s.maybeFinish()
}

// maybeFinish closes done once the schedule is terminal and no agent call
// is still in flight. A frozen schedule finishes immediately, its pending
// callbacks are abandoned along with the rest of its state.
func (s *instanceSupervisor) maybeFinish() {
	if s.sched.state.IsDone() && (s.frozen || s.asyncRunner.NumRunning() == 0) {
		s.doneOnce.Do(func() { close(s.doneCh) })
	}
}

func (s *instanceSupervisor) processEvents() {
	for {
		select {
		case <-s.cancelCh:
			s.startCancel()
		case updates := <-s.nodeUpdateCh:
			for _, update := range updates {
				s.handleNodeUpdate(update)
			}
		default:
			return
		}
	}
}

func (s *instanceSupervisor) startCancel() {
	if s.sched.cancelling || s.sched.state.IsDone() {
		return
	}
	s.stat.Counter(stats.SchedCancelRequestsCounter).Inc(1)
	log.WithFields(log.Fields{"schedule": s.sched.spec.ScheduleName}).Info("Cancelling schedule, draining instances")
	s.sched.cancelling = true
	s.sched.state = domain.ScheduleCancelling
}

// handleNodeUpdate evicts residents of lost nodes back to Pending. Node
// churn is recoverable, it never counts against an instance's attempts.
func (s *instanceSupervisor) handleNodeUpdate(update cluster.NodeUpdate) {
	if update.UpdateType == cluster.NodeAdded {
		return
	}
	for _, inst := range s.sched.residentsOn(update.Id) {
		s.stat.Counter(stats.SchedEvictedInstancesCounter).Inc(1)
		inst.runSeq++ // any in-flight agent result for this run is now stale
		s.releasePlacement(inst)
		if s.sched.cancelling || inst.killRequested {
			s.transition(inst, domain.Terminated, fmt.Sprintf("node %s lost during drain", update.Id))
			continue
		}
		s.transition(inst, domain.Pending, fmt.Sprintf("evicted, node %s %s", update.Id, update.UpdateType))
	}
}

// checkLaunchTimeouts converts instances stuck in Launching into synthetic
// crashes so a hung agent cannot wedge the schedule.
func (s *instanceSupervisor) checkLaunchTimeouts() {
	now := s.now()
	for _, inst := range s.sched.instances {
		if inst.state != domain.Launching {
			continue
		}
		if now.Sub(inst.timeLaunched) < s.config.LaunchTimeout {
			continue
		}
		inst.runSeq++ // drop the eventual real result
		if ag, ok := s.agents[inst.id]; ok {
			// Best effort cleanup in case the launch did land.
			id := inst.id
			s.asyncRunner.RunAsync(func() error { return ag.Kill(id) }, func(error) {})
		}
		s.instanceFailed(inst, "launch timed out",
			domain.Errorf(domain.LaunchFailure, "no start confirmation within %v", s.config.LaunchTimeout))
	}
}

// reconcile drives every component's live replica count toward desired,
// then places whatever is Pending.
func (s *instanceSupervisor) reconcile() {
	defer s.stat.Latency(stats.SchedReconcileLatency_ms).Time().Stop()
	now := s.now()

	names := make([]string, 0, len(s.sched.components))
	for name := range s.sched.components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		comp := s.sched.components[name]
		desired := comp.desired
		if s.sched.cancelling {
			desired = 0
		}
		// Replicas that ran to completion or died with retries spent are
		// not resurrected, they still count toward desired.
		target := desired - s.sched.completedCount(name) - s.sched.deadCount(name)
		if target < 0 {
			target = 0
		}
		live := s.sched.liveCount(name)
		switch {
		case live < target:
			log.WithFields(log.Fields{
				"schedule":  s.sched.spec.ScheduleName,
				"component": name,
				"shortfall": target - live,
			}).Info("Creating replacement instances")
			for i := live; i < target; i++ {
				s.sched.addInstance(name, now)
			}
		case live > target:
			s.terminateExcess(name, live-target)
		}
	}

	s.placePending(now)
}

// terminateExcess retires n replicas of a component, cheapest first:
// Pending instances just terminate, placed ones get a kill.
func (s *instanceSupervisor) terminateExcess(name string, n int) {
	var excess []*instanceState
	for _, inst := range s.sched.instances {
		if inst.componentName == name && !inst.state.IsTerminal() && !inst.killRequested {
			excess = append(excess, inst)
		}
	}
	// Newest first so the longest-running replicas survive a scale-down.
	sort.Slice(excess, func(i, j int) bool {
		if excess[i].state != excess[j].state {
			return excess[i].state < excess[j].state
		}
		if !excess[i].timeCreated.Equal(excess[j].timeCreated) {
			return excess[i].timeCreated.After(excess[j].timeCreated)
		}
		return excess[i].id < excess[j].id
	})
	if n > len(excess) {
		n = len(excess)
	}
	for _, inst := range excess[:n] {
		switch inst.state {
		case domain.Pending:
			s.transition(inst, domain.Terminated, "scaled down before placement")
		case domain.Launching:
			// The launch result callback sees killRequested and issues
			// the kill once the agent has something to kill.
			inst.killRequested = true
		case domain.Running:
			inst.killRequested = true
			s.issueKill(inst)
		}
	}
}

func (s *instanceSupervisor) issueKill(inst *instanceState) {
	ag, ok := s.agents[inst.id]
	if !ok {
		s.releasePlacement(inst)
		s.transition(inst, domain.Terminated, "no agent handle, terminated locally")
		return
	}
	s.stat.Counter(stats.SchedKillsIssuedCounter).Inc(1)
	id, seq := inst.id, inst.runSeq
	s.asyncRunner.RunAsync(
		func() error { return ag.Kill(id) },
		func(err error) { s.handleKillResult(inst, seq, err) })
}

func (s *instanceSupervisor) handleKillResult(inst *instanceState, seq int, err error) {
	if inst.runSeq != seq || inst.state.IsTerminal() {
		return
	}
	if err == nil {
		// The exit report arrives through the wait call.
		return
	}
	log.WithFields(log.Fields{
		"schedule": s.sched.spec.ScheduleName,
		"instance": inst.id,
		"error":    err.Error(),
	}).Warn("Kill failed, terminating instance locally")
	inst.runSeq++
	s.releasePlacement(inst)
	s.transition(inst, domain.Terminated, fmt.Sprintf("kill failed: %v", err))
}

// placePending asks the allocator for placements and applies the plan.
// Reserve re-validates each assignment, a reservation lost to a concurrent
// schedule just leaves that instance Pending for the next tick.
func (s *instanceSupervisor) placePending(now time.Time) {
	pending := s.sched.pendingInstances(now)
	if len(pending) == 0 {
		return
	}

	snapshot := s.catalog.Snapshot()
	nodesByID := make(map[cluster.NodeId]cluster.Node, len(snapshot))
	for _, view := range snapshot {
		nodesByID[view.Id] = view.Node
	}

	requests := make([]PlacementRequest, len(pending))
	for i, inst := range pending {
		requests[i] = PlacementRequest{
			InstanceID:      inst.id,
			ComponentName:   inst.componentName,
			ResourceRequest: inst.req,
		}
	}
	plan := allocate(s.sched.spec.AllocationMode, s.sched.spec.BalancingMetric, requests, snapshot)

	for _, a := range plan.Assignments {
		inst := s.sched.instances[a.InstanceID]
		if err := s.catalog.Reserve(a.NodeID, a.Amount); err != nil {
			log.WithFields(log.Fields{
				"schedule": s.sched.spec.ScheduleName,
				"instance": inst.id,
				"node":     a.NodeID,
				"error":    err.Error(),
			}).Info("Reservation went stale, retrying next tick")
			continue
		}
		s.launch(inst, nodesByID[a.NodeID], now)
	}

	for _, id := range plan.Infeasible {
		inst := s.sched.instances[id]
		inst.stuckTicks++
		inst.lastReason = fmt.Sprintf("no ready node fits %v", inst.req)
		s.stat.Counter(stats.SchedInfeasiblePlacementsCounter).Inc(1)
		if inst.stuckTicks == s.config.InfeasibleWarnTicks {
			log.WithFields(log.Fields{
				"schedule":  s.sched.spec.ScheduleName,
				"instance":  inst.id,
				"component": inst.componentName,
				"request":   inst.req,
			}).Warn("Instance unplaceable for many consecutive ticks")
		}
		s.deferInstance(inst, now)
	}
}

func (s *instanceSupervisor) launch(inst *instanceState, node cluster.Node, now time.Time) {
	comp := s.sched.components[inst.componentName]
	inst.nodeID = node.Id()
	inst.timeLaunched = now
	inst.stuckTicks = 0
	inst.runSeq++
	seq := inst.runSeq
	s.transition(inst, domain.Launching, fmt.Sprintf("placed on node %s", node.Id()))

	ag := s.agentFactory(node)
	s.agents[inst.id] = ag
	s.stat.Counter(stats.SchedLaunchesIssuedCounter).Inc(1)

	spec := agent.LaunchSpec{
		InstanceID:      inst.id,
		ComponentName:   inst.componentName,
		Image:           comp.spec.Image,
		Command:         comp.spec.LaunchCommand,
		MountTarget:     comp.spec.MountTarget,
		ResourceRequest: inst.req,
	}
	s.asyncRunner.RunAsync(
		func() error { return ag.Launch(spec) },
		func(err error) { s.handleLaunchResult(inst, seq, err) })
}

func (s *instanceSupervisor) handleLaunchResult(inst *instanceState, seq int, err error) {
	if inst.runSeq != seq || inst.state != domain.Launching {
		return
	}
	if err != nil {
		s.instanceFailed(inst, fmt.Sprintf("launch failed: %v", err), err)
		return
	}
	s.transition(inst, domain.Running, "agent confirmed start")
	inst.placementBackoff = nil
	if inst.killRequested {
		s.issueKill(inst)
		if inst.state.IsTerminal() {
			return
		}
	}

	ag := s.agents[inst.id]
	id := inst.id
	var exit agent.ExitStatus
	s.asyncRunner.RunAsync(
		func() error {
			var werr error
			exit, werr = ag.Wait(id)
			return werr
		},
		func(werr error) { s.handleExitResult(inst, seq, exit, werr) })
}

func (s *instanceSupervisor) handleExitResult(inst *instanceState, seq int, exit agent.ExitStatus, err error) {
	if inst.runSeq != seq || inst.state != domain.Running {
		return
	}
	if inst.killRequested {
		s.releasePlacement(inst)
		s.transition(inst, domain.Terminated, "killed")
		return
	}
	if err != nil {
		s.instanceFailed(inst, fmt.Sprintf("lost agent while running: %v", err),
			domain.NewError(domain.AgentUnreachable, err))
		return
	}
	if exit.Ok() {
		s.releasePlacement(inst)
		inst.completedOk = true
		s.transition(inst, domain.Terminated, "exited ok")
		return
	}
	reason := fmt.Sprintf("exited with code %d", exit.ExitCode)
	if exit.Error != "" {
		reason = fmt.Sprintf("%s: %s", reason, exit.Error)
	}
	s.instanceFailed(inst, reason, domain.Errorf(domain.LaunchFailure, "%s", reason))
}

// instanceFailed applies the retry policy after a launch failure or crash.
// The instance goes back to Pending with backoff while attempts remain,
// then Terminated with the error attached.
func (s *instanceSupervisor) instanceFailed(inst *instanceState, reason string, cause error) {
	s.releasePlacement(inst)
	inst.attempts++
	s.transition(inst, domain.Failed, reason)

	if s.sched.cancelling || inst.killRequested {
		s.transition(inst, domain.Terminated, "draining, not retried")
		return
	}
	if inst.attempts >= s.config.MaxAttemptsPerInstance {
		s.stat.Counter(stats.SchedRetryExhaustedCounter).Inc(1)
		inst.terminalErr = cause
		s.transition(inst, domain.Terminated,
			fmt.Sprintf("retries exhausted after %d attempts: %s", inst.attempts, reason))
		return
	}
	s.deferInstance(inst, s.now())
	s.transition(inst, domain.Pending, fmt.Sprintf("retrying, attempt %d of %d", inst.attempts+1, s.config.MaxAttemptsPerInstance))
}

// deferInstance pushes the instance's next placement attempt out by its
// exponential backoff.
func (s *instanceSupervisor) deferInstance(inst *instanceState, now time.Time) {
	if inst.placementBackoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.config.PlacementBackoffInitial
		b.MaxInterval = s.config.PlacementBackoffMax
		b.MaxElapsedTime = 0
		b.Reset()
		inst.placementBackoff = b
	}
	inst.nextAttempt = now.Add(inst.placementBackoff.NextBackOff())
}

func (s *instanceSupervisor) releasePlacement(inst *instanceState) {
	if inst.nodeID != "" {
		s.catalog.Release(inst.nodeID, inst.req)
		inst.nodeID = ""
	}
	delete(s.agents, inst.id)
}

// transition applies a state change, logs it, and emits the event.
func (s *instanceSupervisor) transition(inst *instanceState, to domain.InstanceState, reason string) {
	old := inst.state
	inst.state = to
	if reason != "" {
		inst.lastReason = reason
	}
	log.WithFields(log.Fields{
		"schedule":  s.sched.spec.ScheduleName,
		"instance":  inst.id,
		"component": inst.componentName,
		"from":      old.String(),
		"to":        to.String(),
		"reason":    reason,
	}).Info("Instance transition")
	if s.eventSink != nil {
		s.eventSink(domain.InstanceEvent{
			InstanceID:    inst.id,
			ComponentName: inst.componentName,
			ScheduleName:  s.sched.spec.ScheduleName,
			OldState:      old,
			NewState:      to,
			Timestamp:     s.now(),
			Reason:        reason,
		})
	}
}

// checkCompletion decides whether the schedule reached a terminal state:
// nothing live, nothing left to create. Failed if any replica died with
// retries spent, Completed otherwise.
func (s *instanceSupervisor) checkCompletion() {
	if !s.sched.quiescent() {
		return
	}
	// reconcile just ran, so quiescence means no shortfall remains.
	failed := false
	for name := range s.sched.components {
		if s.sched.deadCount(name) > 0 {
			failed = true
			break
		}
	}
	if failed {
		s.sched.state = domain.ScheduleFailed
	} else {
		s.sched.state = domain.ScheduleCompleted
	}
	log.WithFields(log.Fields{
		"schedule": s.sched.spec.ScheduleName,
		"state":    s.sched.state.String(),
	}).Info("Schedule reached terminal state")
}

func (s *instanceSupervisor) updateGauges() {
	live := 0
	for _, inst := range s.sched.instances {
		if !inst.state.IsTerminal() {
			live++
		}
	}
	s.stat.Gauge(stats.SchedLiveInstances).Update(int64(live))
}

func (s *instanceSupervisor) publishStatus() {
	st := s.sched.status()
	s.statusMu.Lock()
	s.lastStatus = st
	s.statusMu.Unlock()
}
