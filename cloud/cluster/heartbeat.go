package cluster

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Buffer on the updates channel so heartbeat handling never blocks on a
	// slow consumer. The consumer drains in batches.
	DefaultUpdateChanSize = 100

	DefaultHeartbeatGap  = 30 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// HeartbeatMonitor turns node heartbeats into NodeUpdates. A node appears on
// its first heartbeat, becomes unreachable after a heartbeat gap, recovers on
// the next heartbeat, and goes away only on explicit decommission.
type HeartbeatMonitor struct {
	mu          sync.Mutex
	known       map[NodeId]Node
	lastSeen    map[NodeId]time.Time
	unreachable map[NodeId]bool
	gap         time.Duration
	updatesCh   chan []NodeUpdate
	doneCh      chan struct{}
}

func NewHeartbeatMonitor(gap, sweepInterval time.Duration) *HeartbeatMonitor {
	if gap <= 0 {
		gap = DefaultHeartbeatGap
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	m := &HeartbeatMonitor{
		known:       make(map[NodeId]Node),
		lastSeen:    make(map[NodeId]time.Time),
		unreachable: make(map[NodeId]bool),
		gap:         gap,
		updatesCh:   make(chan []NodeUpdate, DefaultUpdateChanSize),
		doneCh:      make(chan struct{}),
	}
	go m.sweepLoop(sweepInterval)
	return m
}

// Updates is the channel the node catalog consumes.
func (m *HeartbeatMonitor) Updates() chan []NodeUpdate {
	return m.updatesCh
}

// Heartbeat records a node heartbeat, adding the node on first contact and
// recovering it if it was unreachable.
func (m *HeartbeatMonitor) Heartbeat(node Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := node.Id()
	m.lastSeen[id] = time.Now()
	_, exists := m.known[id]
	m.known[id] = node
	if !exists {
		log.Infof("First heartbeat from node %s, adding to cluster", id)
		m.emit(NewAdd(node))
	} else if m.unreachable[id] {
		log.Infof("Heartbeat from unreachable node %s, recovering", id)
		delete(m.unreachable, id)
		m.emit(NewAdd(node))
	}
}

// Decommission removes a node explicitly. Unknown ids are a no-op.
func (m *HeartbeatMonitor) Decommission(id NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[id]; !ok {
		log.Infof("Ignoring decommission of unknown node %s", id)
		return
	}
	delete(m.known, id)
	delete(m.lastSeen, id)
	delete(m.unreachable, id)
	m.emit(NewRemove(id))
}

// SetMembership replaces the full membership view, for feeds that report
// complete node lists instead of individual heartbeats.
func (m *HeartbeatMonitor) SetMembership(nodes []Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &state{nodes: make(map[NodeId]Node)}
	for id, n := range m.known {
		st.nodes[id] = n
	}
	updates := st.setAndDiff(nodes)
	now := time.Now()
	m.known = make(map[NodeId]Node)
	for _, n := range nodes {
		m.known[n.Id()] = n
		m.lastSeen[n.Id()] = now
		delete(m.unreachable, n.Id())
	}
	for id := range m.lastSeen {
		if _, ok := m.known[id]; !ok {
			delete(m.lastSeen, id)
			delete(m.unreachable, id)
		}
	}
	if len(updates) > 0 {
		m.emitAll(updates)
	}
}

func (m *HeartbeatMonitor) Close() {
	close(m.doneCh)
}

func (m *HeartbeatMonitor) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.doneCh:
			return
		}
	}
}

// sweep marks nodes whose heartbeats stopped as unreachable.
func (m *HeartbeatMonitor) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, seen := range m.lastSeen {
		if m.unreachable[id] || now.Sub(seen) <= m.gap {
			continue
		}
		log.Infof("Node %s missed heartbeats for %s, marking unreachable", id, now.Sub(seen))
		m.unreachable[id] = true
		m.emit(NewUnreachable(id))
	}
}

// emit must be called with mu held. Drops on a full channel rather than
// blocking heartbeat handling; the periodic sweep re-detects unreachability.
func (m *HeartbeatMonitor) emit(update NodeUpdate) {
	m.emitAll([]NodeUpdate{update})
}

func (m *HeartbeatMonitor) emitAll(updates []NodeUpdate) {
	select {
	case m.updatesCh <- updates:
	default:
		log.Warnf("Cluster updates channel full, dropping %d updates", len(updates))
	}
}
