package server

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/common/stats"
	"github.com/herdproject/herd/scheduler/domain"
)

// nodeEntry is the catalog's bookkeeping record for one cluster node.
type nodeEntry struct {
	node      cluster.Node
	total     domain.ResourceVector
	allocated domain.ResourceVector
	ready     bool
}

func (e *nodeEntry) free() domain.ResourceVector {
	return e.total.Sub(e.allocated)
}

// NodeView is a point-in-time read of one node handed to the allocator.
// Free may be stale by the time a plan is applied, reserve re-validates.
type NodeView struct {
	Id    cluster.NodeId
	Node  cluster.Node
	Total domain.ResourceVector
	Free  domain.ResourceVector
}

// NodeCatalog tracks cluster membership and capacity bookkeeping. It is the
// one piece of state shared across schedule control loops, so every method
// takes the mutex; each call is short and never blocks on I/O.
type NodeCatalog struct {
	mu       sync.Mutex
	nodes    map[cluster.NodeId]*nodeEntry
	updateCh chan []cluster.NodeUpdate
	stat     stats.StatsReceiver
}

// NewNodeCatalog creates a catalog seeded with the given nodes and fed by
// updateCh, typically a HeartbeatMonitor's update channel. updateCh may be
// nil for a static cluster.
func NewNodeCatalog(initial []cluster.Node, updateCh chan []cluster.NodeUpdate, stat stats.StatsReceiver) *NodeCatalog {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	c := &NodeCatalog{
		nodes:    make(map[cluster.NodeId]*nodeEntry),
		updateCh: updateCh,
		stat:     stat,
	}
	for _, n := range initial {
		c.UpsertNode(n)
	}
	return c
}

// UpsertNode adds a node or marks a known node ready again. Updating the
// capacity of a node with live allocations keeps the allocation intact;
// the new free capacity is total minus what is already reserved.
func (c *NodeCatalog) UpsertNode(node cluster.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.nodes[node.Id()]
	if !ok {
		c.nodes[node.Id()] = &nodeEntry{node: node, total: node.Capacity(), ready: true}
		log.WithFields(log.Fields{"node": node.Id(), "capacity": node.Capacity()}).Info("Node joined catalog")
		return
	}
	if !e.ready {
		log.WithFields(log.Fields{"node": node.Id()}).Info("Node recovered, marking ready")
	}
	e.node = node
	e.total = node.Capacity()
	e.ready = true
}

// MarkUnreachable keeps the node's bookkeeping but withholds it from
// snapshots until it heartbeats again. Resident instances are the
// supervisors' problem, the catalog only stops offering the capacity.
func (c *NodeCatalog) MarkUnreachable(id cluster.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.nodes[id]; ok && e.ready {
		e.ready = false
		log.WithFields(log.Fields{"node": id}).Warn("Node unreachable, withholding from placement")
	}
}

// RemoveNode drops the node and all its reserved capacity. Supervisors
// learn of the removal via the update fan-out and evict their residents;
// their release calls afterwards are no-ops.
func (c *NodeCatalog) RemoveNode(id cluster.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[id]; ok {
		delete(c.nodes, id)
		log.WithFields(log.Fields{"node": id}).Info("Node removed from catalog")
	}
}

// Snapshot returns the ready nodes ordered by ascending node id. The stable
// order keeps allocation decisions reproducible across identical states.
func (c *NodeCatalog) Snapshot() []NodeView {
	c.mu.Lock()
	defer c.mu.Unlock()
	views := []NodeView{}
	for id, e := range c.nodes {
		if !e.ready {
			continue
		}
		views = append(views, NodeView{Id: id, Node: e.node, Total: e.total, Free: e.free()})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Id < views[j].Id })
	return views
}

// Reserve claims capacity on a node, re-validating against current free
// capacity. A planning snapshot may have gone stale since the allocator
// looked, in which case the caller gets InsufficientCapacity and drops the
// instance back to Pending for the next tick.
func (c *NodeCatalog) Reserve(id cluster.NodeId, amount domain.ResourceVector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.nodes[id]
	if !ok || !e.ready {
		c.stat.Counter(stats.SchedStaleReservesCounter).Inc(1)
		return domain.Errorf(domain.InsufficientCapacity, "node %s is gone or unreachable", id)
	}
	if !amount.Fits(e.free()) {
		c.stat.Counter(stats.SchedStaleReservesCounter).Inc(1)
		return domain.Errorf(domain.InsufficientCapacity,
			"node %s free %v cannot fit %v", id, e.free(), amount)
	}
	e.allocated = e.allocated.Add(amount)
	return nil
}

// Release returns capacity reserved on a node. Releasing against a node
// that has since been removed is a no-op, its bookkeeping died with it.
func (c *NodeCatalog) Release(id cluster.NodeId, amount domain.ResourceVector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.nodes[id]
	if !ok {
		return
	}
	// Sub panics on underflow. A release exceeding the allocation means
	// the caller double-released, which is a programming error.
	e.allocated = e.allocated.Sub(amount)
}

// UpdateCluster drains pending membership updates from the feed, applies
// them, and returns the applied batch so the controller can fan node churn
// out to every supervisor.
func (c *NodeCatalog) UpdateCluster() []cluster.NodeUpdate {
	defer c.stat.Latency(stats.SchedCatalogUpdateLatency_ms).Time().Stop()
	var applied []cluster.NodeUpdate
	if c.updateCh == nil {
		return nil
	}
	for {
		select {
		case batch := <-c.updateCh:
			for _, update := range batch {
				c.apply(update)
				applied = append(applied, update)
			}
		default:
			c.updateGauges()
			return applied
		}
	}
}

func (c *NodeCatalog) apply(update cluster.NodeUpdate) {
	switch update.UpdateType {
	case cluster.NodeAdded:
		c.UpsertNode(update.Node)
	case cluster.NodeUnreachable:
		c.MarkUnreachable(update.Id)
	case cluster.NodeRemoved:
		c.RemoveNode(update.Id)
	}
}

func (c *NodeCatalog) updateGauges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ready, unreachable int64
	for _, e := range c.nodes {
		if e.ready {
			ready++
		} else {
			unreachable++
		}
	}
	c.stat.Gauge(stats.ClusterReadyNodes).Update(ready)
	c.stat.Gauge(stats.ClusterUnreachableNodes).Update(unreachable)
}
