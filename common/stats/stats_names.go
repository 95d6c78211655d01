package stats

// Stat names used by the scheduler. Kept in one place so dashboards and
// tests reference the same strings.
const (
	// Number of schedules accepted.
	SchedAcceptedSchedulesCounter = "acceptedSchedulesCounter"

	// Number of schedule cancel requests received.
	SchedCancelRequestsCounter = "cancelRequestsCounter"

	// Number of instance launches issued to node agents.
	SchedLaunchesIssuedCounter = "launchesIssuedCounter"

	// Number of instance kills issued to node agents.
	SchedKillsIssuedCounter = "killsIssuedCounter"

	// Number of placement requests the allocator could not place.
	SchedInfeasiblePlacementsCounter = "infeasiblePlacementsCounter"

	// Number of reserves that failed because the planning snapshot went stale.
	SchedStaleReservesCounter = "staleReservesCounter"

	// Number of instances evicted by node churn.
	SchedEvictedInstancesCounter = "evictedInstancesCounter"

	// Number of instances that exhausted their attempt budget.
	SchedRetryExhaustedCounter = "retryExhaustedCounter"

	// Latency of one control loop step.
	SchedStepLatency_ms = "stepLatency_ms"

	// Latency of one reconcile pass.
	SchedReconcileLatency_ms = "reconcileLatency_ms"

	// Latency of folding cluster updates into the node catalog.
	SchedCatalogUpdateLatency_ms = "catalogUpdateLatency_ms"

	// Current number of ready nodes in the catalog.
	ClusterReadyNodes = "clusterReadyNodes"

	// Current number of unreachable nodes in the catalog.
	ClusterUnreachableNodes = "clusterUnreachableNodes"

	// Current number of live (non-terminal) instances across all schedules.
	SchedLiveInstances = "liveInstances"

	// Current number of active schedules.
	SchedActiveSchedules = "activeSchedules"
)
