package cluster

import (
	"fmt"
)

type NodeUpdateType int

const (
	// NodeAdded, the node sent its first heartbeat or recovered.
	NodeAdded NodeUpdateType = iota

	// NodeUnreachable, the node missed enough heartbeats to be sidelined.
	// Its instances are rescheduled but its record is kept for recovery.
	NodeUnreachable

	// NodeRemoved, the node was explicitly decommissioned.
	NodeRemoved
)

func (t NodeUpdateType) String() string {
	switch t {
	case NodeAdded:
		return "NodeAdded"
	case NodeUnreachable:
		return "NodeUnreachable"
	case NodeRemoved:
		return "NodeRemoved"
	default:
		return fmt.Sprintf("NodeUpdateType(%d)", int(t))
	}
}

// NodeUpdate represents a change to the cluster.
type NodeUpdate struct {
	UpdateType NodeUpdateType
	Id         NodeId
	Node       Node // Only set for adds.
}

func (u *NodeUpdate) String() string {
	return fmt.Sprintf("%v %v %v", u.UpdateType, u.Id, u.Node)
}

// Helper functions to create NodeUpdates.

func NewAdd(node Node) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeAdded,
		Id:         node.Id(),
		Node:       node,
	}
}

func NewUnreachable(id NodeId) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeUnreachable,
		Id:         id,
	}
}

func NewRemove(id NodeId) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeRemoved,
		Id:         id,
	}
}
