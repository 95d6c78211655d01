package server

import (
	"sort"

	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/scheduler/domain"
)

// PlacementRequest asks for one instance to be placed somewhere with at
// least ResourceRequest free. Requests are submitted oldest instance first
// so scheduling stays fair and reproducible.
type PlacementRequest struct {
	InstanceID      string
	ComponentName   string
	ResourceRequest domain.ResourceVector
}

// Assignment binds one placement request to a node.
type Assignment struct {
	InstanceID string
	NodeID     cluster.NodeId
	Amount     domain.ResourceVector
}

// PlacementPlan is the allocator's output: assignments for the requests
// that fit, and the instance ids of those that did not.
type PlacementPlan struct {
	Assignments []Assignment
	Infeasible  []string
}

// placementStrategy orders candidate nodes for the next request. Both
// strategies rank along a single metric's free amount and break ties by
// ascending node id.
type placementStrategy interface {
	rankNodes(metric domain.Metric, nodes []NodeView)
}

type balancedStrategy struct{}

// rankNodes sorts by descending free metric so load spreads evenly.
func (balancedStrategy) rankNodes(metric domain.Metric, nodes []NodeView) {
	sort.SliceStable(nodes, func(i, j int) bool {
		fi, fj := nodes[i].Free.Get(metric), nodes[j].Free.Get(metric)
		if fi != fj {
			return fi > fj
		}
		return nodes[i].Id < nodes[j].Id
	})
}

type compactedStrategy struct{}

// rankNodes sorts by ascending free metric, packing the fullest feasible
// nodes first to minimize the number of nodes touched.
func (compactedStrategy) rankNodes(metric domain.Metric, nodes []NodeView) {
	sort.SliceStable(nodes, func(i, j int) bool {
		fi, fj := nodes[i].Free.Get(metric), nodes[j].Free.Get(metric)
		if fi != fj {
			return fi < fj
		}
		return nodes[i].Id < nodes[j].Id
	})
}

func strategyFor(mode domain.AllocationMode) placementStrategy {
	if mode == domain.Compacted {
		return compactedStrategy{}
	}
	return balancedStrategy{}
}

// allocate plans placements greedily: for each request in order, re-rank the
// overlay and take the first node whose free vector fits the full request.
// Chosen capacity is debited from the overlay immediately so later requests
// see it as taken. The real catalog is never touched; the caller applies the
// plan via Reserve, which re-validates.
func allocate(mode domain.AllocationMode, metric domain.Metric, requests []PlacementRequest, snapshot []NodeView) PlacementPlan {
	strategy := strategyFor(mode)

	// Copy the snapshot so debits stay local to this plan.
	overlay := make([]NodeView, len(snapshot))
	copy(overlay, snapshot)

	plan := PlacementPlan{}
	for _, req := range requests {
		strategy.rankNodes(metric, overlay)
		placed := false
		for i := range overlay {
			if !req.ResourceRequest.Fits(overlay[i].Free) {
				continue
			}
			overlay[i].Free = overlay[i].Free.Sub(req.ResourceRequest)
			plan.Assignments = append(plan.Assignments, Assignment{
				InstanceID: req.InstanceID,
				NodeID:     overlay[i].Id,
				Amount:     req.ResourceRequest,
			})
			placed = true
			break
		}
		if !placed {
			plan.Infeasible = append(plan.Infeasible, req.InstanceID)
		}
	}
	return plan
}
