package server

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/herdproject/herd/agent"
	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/common/stats"
	"github.com/herdproject/herd/scheduler/domain"
)

const eventStreamBuffer = 1000

// ScheduleController accepts schedules and drives one instanceSupervisor
// per active schedule. It owns the shared node catalog, fans cluster churn
// out to every supervisor, and aggregates their status snapshots and
// instance events for external consumers.
type ScheduleController struct {
	catalog      *NodeCatalog
	agentFactory agent.AgentFactory
	config       SchedulerConfiguration
	stat         stats.StatsReceiver

	mu          sync.Mutex
	supervisors map[string]*instanceSupervisor
	queue       []*domain.ScheduleSpec

	eventCh chan domain.InstanceEvent
	doneCh  chan struct{}
}

// NewScheduleController builds a controller over the given cluster. The
// update channel feeds membership churn, typically from a HeartbeatMonitor.
// Unless config.DebugMode is set, a goroutine polls the feed and fans
// updates out to supervisors.
func NewScheduleController(
	initial []cluster.Node,
	updateCh chan []cluster.NodeUpdate,
	af agent.AgentFactory,
	config SchedulerConfiguration,
	stat stats.StatsReceiver,
) *ScheduleController {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	config = config.withDefaults()
	log.Info("Starting schedule controller with ", config)
	c := &ScheduleController{
		catalog:      NewNodeCatalog(initial, updateCh, stat),
		agentFactory: af,
		config:       config,
		stat:         stat,
		supervisors:  make(map[string]*instanceSupervisor),
		eventCh:      make(chan domain.InstanceEvent, eventStreamBuffer),
		doneCh:       make(chan struct{}),
	}
	if !config.DebugMode {
		go c.clusterLoop()
	}
	return c
}

// Schedule validates and activates a schedule. The name must not collide
// with a live schedule; terminal schedules with the same name must be
// removed with CleanSchedules first.
func (c *ScheduleController) Schedule(spec *domain.ScheduleSpec) error {
	if err := spec.Validate(); err != nil {
		return errors.Wrap(err, "rejecting schedule")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.supervisors[spec.ScheduleName]; ok {
		return errors.Errorf("schedule %s already exists", spec.ScheduleName)
	}
	for _, queued := range c.queue {
		if queued.ScheduleName == spec.ScheduleName {
			return errors.Errorf("schedule %s already exists", spec.ScheduleName)
		}
	}
	c.stat.Counter(stats.SchedAcceptedSchedulesCounter).Inc(1)
	if c.config.MaxActiveSchedules > 0 && c.liveSchedules() >= c.config.MaxActiveSchedules {
		c.queue = append(c.queue, spec)
		log.WithFields(log.Fields{
			"schedule": spec.ScheduleName,
			"queued":   len(c.queue),
		}).Info("Schedule queued, at max active schedules")
		return nil
	}
	c.activate(spec)
	return nil
}

// liveSchedules counts supervisors whose loop has not exited. Terminal
// schedules awaiting CleanSchedules do not hold a slot. Callers hold mu.
func (c *ScheduleController) liveSchedules() int {
	live := 0
	for _, sup := range c.supervisors {
		select {
		case <-sup.done():
		default:
			live++
		}
	}
	return live
}

// activate starts a supervisor for an accepted schedule. Callers hold mu.
func (c *ScheduleController) activate(spec *domain.ScheduleSpec) {
	log.WithFields(log.Fields{
		"schedule":   spec.ScheduleName,
		"components": len(spec.Components),
		"mode":       spec.AllocationMode.String(),
	}).Info("Schedule activated")
	c.supervisors[spec.ScheduleName] = newInstanceSupervisor(
		spec, c.catalog, c.agentFactory, c.config, c.stat, c.emitEvent)
	c.stat.Gauge(stats.SchedActiveSchedules).Update(int64(len(c.supervisors)))
}

// admitQueued activates queued schedules while slots are free. Callers hold mu.
func (c *ScheduleController) admitQueued() {
	for len(c.queue) > 0 &&
		(c.config.MaxActiveSchedules == 0 || c.liveSchedules() < c.config.MaxActiveSchedules) {
		spec := c.queue[0]
		c.queue = c.queue[1:]
		c.activate(spec)
	}
}

// Cancel asks a schedule to drain to zero instances. A queued schedule is
// dropped from the queue before it ever starts. Idempotent.
func (c *ScheduleController) Cancel(name string) error {
	c.mu.Lock()
	sup, ok := c.supervisors[name]
	if !ok {
		for i, queued := range c.queue {
			if queued.ScheduleName == name {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				c.mu.Unlock()
				log.WithFields(log.Fields{"schedule": name}).Info("Dropped queued schedule")
				return nil
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("no such schedule: %s", name)
	}
	sup.cancel()
	return nil
}

// Status returns the latest snapshot for one schedule.
func (c *ScheduleController) Status(name string) (domain.ScheduleStatus, error) {
	c.mu.Lock()
	sup, ok := c.supervisors[name]
	if !ok {
		for _, queued := range c.queue {
			if queued.ScheduleName == name {
				c.mu.Unlock()
				return queuedStatus(queued), nil
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return domain.ScheduleStatus{}, errors.Errorf("no such schedule: %s", name)
	}
	return sup.status(), nil
}

// queuedStatus is the snapshot for a schedule still waiting for a slot.
func queuedStatus(spec *domain.ScheduleSpec) domain.ScheduleStatus {
	st := domain.ScheduleStatus{
		ScheduleName: spec.ScheduleName,
		State:        domain.ScheduleQueued,
		Components:   make(map[string]domain.ComponentStatus),
	}
	for _, comp := range spec.ActiveComponents() {
		st.Components[comp.Name] = domain.ComponentStatus{Desired: comp.ReplicaCount}
	}
	return st
}

// StatusAll returns snapshots for every known schedule, terminal included.
func (c *ScheduleController) StatusAll() []domain.ScheduleStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	statuses := make([]domain.ScheduleStatus, 0, len(c.supervisors)+len(c.queue))
	for _, sup := range c.supervisors {
		statuses = append(statuses, sup.status())
	}
	for _, queued := range c.queue {
		statuses = append(statuses, queuedStatus(queued))
	}
	return statuses
}

// CleanSchedules forgets schedules that reached a terminal state and whose
// loops have exited. Returns the names removed, freeing them for reuse.
func (c *ScheduleController) CleanSchedules() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for name, sup := range c.supervisors {
		select {
		case <-sup.done():
			delete(c.supervisors, name)
			removed = append(removed, name)
			log.WithFields(log.Fields{"schedule": name}).Info("Cleaned terminal schedule")
		default:
		}
	}
	c.admitQueued()
	c.stat.Gauge(stats.SchedActiveSchedules).Update(int64(len(c.supervisors)))
	return removed
}

// Events is the ordered stream of instance transitions across all
// schedules. Slow consumers lose events, the stream is observability, not
// state.
func (c *ScheduleController) Events() <-chan domain.InstanceEvent {
	return c.eventCh
}

// Stop halts the cluster fan-out loop. Supervisor loops keep draining; use
// Cancel first for a clean shutdown.
func (c *ScheduleController) Stop() {
	close(c.doneCh)
}

func (c *ScheduleController) emitEvent(ev domain.InstanceEvent) {
	select {
	case c.eventCh <- ev:
	default:
		log.Warn("Event stream consumer too slow, dropping instance event")
	}
}

func (c *ScheduleController) clusterLoop() {
	ticker := time.NewTicker(c.config.TickRate)
	defer ticker.Stop()
	for {
		select {
		case <-c.doneCh:
			return
		case <-ticker.C:
			c.stepCluster()
			c.mu.Lock()
			c.admitQueued()
			c.mu.Unlock()
		}
	}
}

// stepCluster folds pending cluster churn into the catalog and fans the
// applied updates out to every live supervisor.
func (c *ScheduleController) stepCluster() {
	applied := c.catalog.UpdateCluster()
	if len(applied) == 0 {
		return
	}
	c.mu.Lock()
	sups := make([]*instanceSupervisor, 0, len(c.supervisors))
	for _, sup := range c.supervisors {
		sups = append(sups, sup)
	}
	c.mu.Unlock()
	for _, sup := range sups {
		sup.offerNodeUpdates(applied)
	}
}
