// Package cluster provides node identity and membership updates for the
// pool of compute nodes the scheduler places work on.
package cluster

import (
	"fmt"

	"github.com/herdproject/herd/scheduler/domain"
)

type NodeId string

type Node interface {
	// A unique node identifier, like 'host:agentPort'.
	Id() NodeId

	// Total capacity the node reported when it joined the cluster.
	Capacity() domain.ResourceVector
}

type idNode struct {
	id       NodeId
	capacity domain.ResourceVector
}

func (n *idNode) String() string {
	return fmt.Sprintf("%s%s", n.id, n.capacity)
}

func (n *idNode) Id() NodeId {
	return n.id
}

func (n *idNode) Capacity() domain.ResourceVector {
	return n.capacity
}

func NewIdNode(id string, capacity domain.ResourceVector) Node {
	return &idNode{id: NodeId(id), capacity: capacity}
}

// NewIdNodes creates a uniform test cluster of num nodes with the given capacity.
func NewIdNodes(num int, capacity domain.ResourceVector) []Node {
	r := []Node{}
	for i := 0; i < num; i++ {
		r = append(r, NewIdNode(fmt.Sprintf("node%d", i+1), capacity))
	}
	return r
}

var _ Node = (*idNode)(nil)

type NodeSorter []Node

func (n NodeSorter) Len() int           { return len(n) }
func (n NodeSorter) Swap(i, j int)      { n[i], n[j] = n[j], n[i] }
func (n NodeSorter) Less(i, j int) bool { return n[i].Id() < n[j].Id() }
