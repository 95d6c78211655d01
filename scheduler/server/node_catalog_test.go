package server

import (
	"testing"

	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/scheduler/domain"
)

func makeTestCatalog(ids ...string) *NodeCatalog {
	var nodes []cluster.Node
	for _, id := range ids {
		nodes = append(nodes, cluster.NewIdNode(id, domain.NewResourceVector(8, 8192, 1)))
	}
	return NewNodeCatalog(nodes, nil, nil)
}

// checkFreeInvariant verifies free = total - allocated, componentwise >= 0,
// for every node in the snapshot.
func checkFreeInvariant(t *testing.T, c *NodeCatalog) {
	for _, view := range c.Snapshot() {
		if view.Free.CPUCores < 0 || view.Free.MemoryMB < 0 || view.Free.GPUCards < 0 {
			t.Fatalf("node %v has negative free capacity: %v", view.Id, view.Free)
		}
		c.mu.Lock()
		e := c.nodes[view.Id]
		want := e.total.Sub(e.allocated)
		c.mu.Unlock()
		if view.Free != want {
			t.Fatalf("node %v free %v, expected total-allocated %v", view.Id, view.Free, want)
		}
	}
}

func TestNodeCatalog_ReserveRelease(t *testing.T) {
	c := makeTestCatalog("node1")
	amount := domain.NewResourceVector(4, 4096, 1)

	if err := c.Reserve("node1", amount); err != nil {
		t.Fatalf("expected reserve to succeed, got %v", err)
	}
	checkFreeInvariant(t, c)
	if free := c.Snapshot()[0].Free; free != domain.NewResourceVector(4, 4096, 0) {
		t.Errorf("expected free {4,4096,0} after reserve, got %v", free)
	}

	c.Release("node1", amount)
	checkFreeInvariant(t, c)
	if free := c.Snapshot()[0].Free; free != domain.NewResourceVector(8, 8192, 1) {
		t.Errorf("expected full capacity after release, got %v", free)
	}
}

func TestNodeCatalog_ReserveInsufficient(t *testing.T) {
	c := makeTestCatalog("node1")

	err := c.Reserve("node1", domain.NewResourceVector(16, 1024, 0))
	if !domain.IsKind(err, domain.InsufficientCapacity) {
		t.Fatalf("expected InsufficientCapacity, got %v", err)
	}
	// A failed reserve must not mutate the catalog.
	if free := c.Snapshot()[0].Free; free != domain.NewResourceVector(8, 8192, 1) {
		t.Errorf("expected catalog unchanged after failed reserve, got free %v", free)
	}

	err = c.Reserve("ghost", domain.NewResourceVector(1, 0, 0))
	if !domain.IsKind(err, domain.InsufficientCapacity) {
		t.Fatalf("expected InsufficientCapacity for unknown node, got %v", err)
	}
}

func TestNodeCatalog_SnapshotOrderAndReadiness(t *testing.T) {
	c := makeTestCatalog("node3", "node1", "node2")

	snap := c.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(snap))
	}
	for i, want := range []cluster.NodeId{"node1", "node2", "node3"} {
		if snap[i].Id != want {
			t.Errorf("expected node %v at position %d, got %v", want, i, snap[i].Id)
		}
	}

	c.MarkUnreachable("node2")
	snap = c.Snapshot()
	if len(snap) != 2 || snap[0].Id != "node1" || snap[1].Id != "node3" {
		t.Errorf("expected unreachable node withheld from snapshot, got %v", snap)
	}

	// Reserve against an unreachable node must fail, nothing should be
	// placed where the agent cannot be reached.
	if err := c.Reserve("node2", domain.NewResourceVector(1, 0, 0)); !domain.IsKind(err, domain.InsufficientCapacity) {
		t.Errorf("expected reserve on unreachable node to fail, got %v", err)
	}

	// Recovery through upsert restores the node.
	c.UpsertNode(cluster.NewIdNode("node2", domain.NewResourceVector(8, 8192, 1)))
	if len(c.Snapshot()) != 3 {
		t.Errorf("expected recovered node back in snapshot")
	}
}

func TestNodeCatalog_ReleaseAfterRemoveIsNoop(t *testing.T) {
	c := makeTestCatalog("node1")
	amount := domain.NewResourceVector(2, 1024, 0)
	if err := c.Reserve("node1", amount); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	c.RemoveNode("node1")
	c.Release("node1", amount) // must not panic or resurrect the node
	if len(c.Snapshot()) != 0 {
		t.Errorf("expected empty snapshot after removal")
	}
}

func TestNodeCatalog_UpdateCluster(t *testing.T) {
	updateCh := make(chan []cluster.NodeUpdate, 4)
	c := NewNodeCatalog(nil, updateCh, nil)

	capacity := domain.NewResourceVector(4, 2048, 0)
	updateCh <- []cluster.NodeUpdate{
		cluster.NewAdd(cluster.NewIdNode("node1", capacity)),
		cluster.NewAdd(cluster.NewIdNode("node2", capacity)),
	}
	updateCh <- []cluster.NodeUpdate{
		cluster.NewUnreachable("node1"),
		cluster.NewRemove("node2"),
	}

	applied := c.UpdateCluster()
	if len(applied) != 4 {
		t.Fatalf("expected 4 applied updates, got %d", len(applied))
	}
	if len(c.Snapshot()) != 0 {
		t.Errorf("expected no ready nodes, got %v", c.Snapshot())
	}

	// Nothing queued means nothing applied.
	if applied := c.UpdateCluster(); len(applied) != 0 {
		t.Errorf("expected no updates on drained channel, got %v", applied)
	}
}
