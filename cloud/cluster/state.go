package cluster

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

// state is the last known membership view, used to turn full-state heartbeat
// feeds into incremental NodeUpdates.
type state struct {
	nodes       map[NodeId]Node
	nopCheckCnt int
}

func makeState(nodes []Node) *state {
	s := &state{
		nodes: make(map[NodeId]Node),
	}
	s.setAndDiff(nodes)
	return s
}

// setAndDiff takes a new full membership view and returns the NodeUpdates
// that transform the previous view into it.
func (s *state) setAndDiff(newState []Node) []NodeUpdate {
	added := []Node{}
	for _, n := range newState {
		if _, exists := s.nodes[n.Id()]; exists {
			// Drop from s.nodes so that it ends up holding only the removed nodes.
			delete(s.nodes, n.Id())
		} else {
			added = append(added, n)
		}
	}
	removed := []Node{}
	for _, n := range s.nodes {
		removed = append(removed, n)
	}
	sort.Sort(NodeSorter(added))
	sort.Sort(NodeSorter(removed))

	outgoing := []NodeUpdate{}
	for _, n := range added {
		log.Infof("NodeAdded update: %s", n)
		outgoing = append(outgoing, NewAdd(n))
	}
	for _, n := range removed {
		log.Infof("NodeRemoved update: %s", n.Id())
		outgoing = append(outgoing, NewRemove(n.Id()))
	}

	// Track how often membership checks come back unchanged, useful when
	// debugging a feed that seems stuck.
	if len(added) > 0 || len(removed) > 0 {
		log.Infof("Cluster membership changed: %d added, %d removed, %d nodes total (%d checks with no change)",
			len(added), len(removed), len(newState), s.nopCheckCnt)
		s.nopCheckCnt = 0
	} else {
		s.nopCheckCnt++
	}

	s.nodes = make(map[NodeId]Node)
	for _, n := range newState {
		s.nodes[n.Id()] = n
	}
	return outgoing
}
