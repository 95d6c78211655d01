package server

import (
	"testing"
	"time"

	"github.com/herdproject/herd/agent/fake"
	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/scheduler/domain"
)

func makeTestNodes(ids ...string) []cluster.Node {
	var nodes []cluster.Node
	for _, id := range ids {
		nodes = append(nodes, cluster.NewIdNode(id, domain.NewResourceVector(8, 8192, 1)))
	}
	return nodes
}

func fastConfig() SchedulerConfiguration {
	return SchedulerConfiguration{
		TickRate:                5 * time.Millisecond,
		PlacementBackoffInitial: time.Nanosecond,
		PlacementBackoffMax:     time.Nanosecond,
	}
}

// poll the controller until the schedule's status satisfies cond
func waitForStatus(t *testing.T, c *ScheduleController, name, what string, cond func(domain.ScheduleStatus) bool) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := c.Status(name)
		if err == nil && cond(st) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last status %+v, err %v", what, st, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func Test_Controller_ScheduleValidation(t *testing.T) {
	c := NewScheduleController(makeTestNodes("node1"), nil, fake.MakeNoopAgentFactory(), fastConfig(), nil)
	defer c.Stop()

	bad := makeTestSpec("actor", 2)
	bad.ScheduleName = ""
	if err := c.Schedule(bad); err == nil {
		t.Errorf("expected invalid spec to be rejected")
	}

	if err := c.Schedule(makeTestSpec("actor", 2)); err != nil {
		t.Fatalf("expected schedule to be accepted, got %v", err)
	}
	if err := c.Schedule(makeTestSpec("actor", 2)); err == nil {
		t.Errorf("expected duplicate schedule name to be rejected")
	}

	if err := c.Cancel("nope"); err == nil {
		t.Errorf("expected cancel of unknown schedule to error")
	}
	if _, err := c.Status("nope"); err == nil {
		t.Errorf("expected status of unknown schedule to error")
	}
}

func Test_Controller_RunToCompletionAndClean(t *testing.T) {
	af := fake.MakeAgentFactory(func(a *fake.Agent) {
		a.RunDuration = 10 * time.Millisecond
	})
	c := NewScheduleController(makeTestNodes("node1", "node2"), nil, af, fastConfig(), nil)
	defer c.Stop()

	if err := c.Schedule(makeTestSpec("actor", 3)); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}
	waitForStatus(t, c, "sched1", "completion", func(st domain.ScheduleStatus) bool {
		return st.State == domain.ScheduleCompleted
	})

	st, _ := c.Status("sched1")
	if st.Components["actor"].Completed != 3 {
		t.Errorf("expected 3 completed replicas, got %+v", st.Components["actor"])
	}

	removed := c.CleanSchedules()
	if len(removed) != 1 || removed[0] != "sched1" {
		t.Fatalf("expected clean to remove sched1, got %v", removed)
	}
	if _, err := c.Status("sched1"); err == nil {
		t.Errorf("expected cleaned schedule to be forgotten")
	}

	// A cleaned name is free for reuse.
	if err := c.Schedule(makeTestSpec("actor", 1)); err != nil {
		t.Errorf("expected cleaned name to be reusable, got %v", err)
	}
}

func Test_Controller_TwoSchedulesShareTheCluster(t *testing.T) {
	af := fake.MakeAgentFactory(func(a *fake.Agent) {
		a.RunDuration = 10 * time.Millisecond
	})
	c := NewScheduleController(makeTestNodes("node1", "node2"), nil, af, fastConfig(), nil)
	defer c.Stop()

	specA := makeTestSpec("actor", 2)
	specA.ScheduleName = "schedA"
	specB := makeTestSpec("learner", 2)
	specB.ScheduleName = "schedB"
	if err := c.Schedule(specA); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}
	if err := c.Schedule(specB); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}

	for _, name := range []string{"schedA", "schedB"} {
		waitForStatus(t, c, name, name+" completion", func(st domain.ScheduleStatus) bool {
			return st.State == domain.ScheduleCompleted
		})
	}
	if got := len(c.StatusAll()); got != 2 {
		t.Errorf("expected 2 statuses, got %d", got)
	}
}

func Test_Controller_CancelDrains(t *testing.T) {
	c := NewScheduleController(makeTestNodes("node1", "node2"), nil, fake.MakeNoopAgentFactory(), fastConfig(), nil)
	defer c.Stop()

	if err := c.Schedule(makeTestSpec("actor", 2)); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}
	waitForStatus(t, c, "sched1", "replicas running", func(st domain.ScheduleStatus) bool {
		return st.Components["actor"].Running == 2
	})

	if err := c.Cancel("sched1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	waitForStatus(t, c, "sched1", "drain", func(st domain.ScheduleStatus) bool {
		return st.State == domain.ScheduleCompleted
	})
}

func Test_Controller_NodeChurnFanout(t *testing.T) {
	updateCh := make(chan []cluster.NodeUpdate, 4)
	c := NewScheduleController(makeTestNodes("node1"), updateCh, fake.MakeNoopAgentFactory(), fastConfig(), nil)
	defer c.Stop()

	if err := c.Schedule(makeTestSpec("actor", 1)); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}
	waitForStatus(t, c, "sched1", "replica running", func(st domain.ScheduleStatus) bool {
		return st.Components["actor"].Running == 1
	})

	// Losing the only node strands the replica in Pending, recoverable.
	updateCh <- []cluster.NodeUpdate{cluster.NewRemove("node1")}
	waitForStatus(t, c, "sched1", "eviction", func(st domain.ScheduleStatus) bool {
		return st.Components["actor"].Pending == 1 && st.Components["actor"].Running == 0
	})

	// A replacement node picks the replica back up.
	updateCh <- []cluster.NodeUpdate{cluster.NewAdd(cluster.NewIdNode("node2", domain.NewResourceVector(8, 8192, 1)))}
	waitForStatus(t, c, "sched1", "recovery", func(st domain.ScheduleStatus) bool {
		return st.Components["actor"].Running == 1
	})
}

func Test_Controller_QueueAtMaxActiveSchedules(t *testing.T) {
	af := fake.MakeAgentFactory(func(a *fake.Agent) {
		a.RunDuration = 10 * time.Millisecond
	})
	config := fastConfig()
	config.MaxActiveSchedules = 1
	c := NewScheduleController(makeTestNodes("node1", "node2"), nil, af, config, nil)
	defer c.Stop()

	specA := makeTestSpec("actor", 2)
	specA.ScheduleName = "schedA"
	specB := makeTestSpec("learner", 2)
	specB.ScheduleName = "schedB"
	if err := c.Schedule(specA); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}
	if err := c.Schedule(specB); err != nil {
		t.Fatalf("expected second schedule to queue, got %v", err)
	}
	if err := c.Schedule(specB); err == nil {
		t.Errorf("expected duplicate queued name to be rejected")
	}

	st, err := c.Status("schedB")
	if err != nil {
		t.Fatalf("expected queued schedule to have a status, got %v", err)
	}
	if st.State != domain.ScheduleQueued {
		t.Errorf("expected schedB queued, got %v", st.State)
	}
	if st.Components["learner"].Desired != 2 {
		t.Errorf("expected queued status to carry desired counts, got %+v", st.Components["learner"])
	}
	if got := len(c.StatusAll()); got != 2 {
		t.Errorf("expected 2 statuses including queued, got %d", got)
	}

	// schedB starts only once schedA's slot frees up.
	waitForStatus(t, c, "schedB", "queued schedule completion", func(st domain.ScheduleStatus) bool {
		return st.State == domain.ScheduleCompleted
	})
	stA, _ := c.Status("schedA")
	if stA.State != domain.ScheduleCompleted {
		t.Errorf("expected schedA completed, got %v", stA.State)
	}
}

func Test_Controller_CancelQueuedSchedule(t *testing.T) {
	config := fastConfig()
	config.MaxActiveSchedules = 1
	c := NewScheduleController(makeTestNodes("node1"), nil, fake.MakeNoopAgentFactory(), config, nil)
	defer c.Stop()

	if err := c.Schedule(makeTestSpec("actor", 1)); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}
	queued := makeTestSpec("actor", 1)
	queued.ScheduleName = "sched2"
	if err := c.Schedule(queued); err != nil {
		t.Fatalf("expected second schedule to queue, got %v", err)
	}

	if err := c.Cancel("sched2"); err != nil {
		t.Fatalf("expected cancel of queued schedule to succeed, got %v", err)
	}
	if _, err := c.Status("sched2"); err == nil {
		t.Errorf("expected cancelled queued schedule to be forgotten")
	}

	// First schedule is untouched by the queue cancel.
	waitForStatus(t, c, "sched1", "replica running", func(st domain.ScheduleStatus) bool {
		return st.Components["actor"].Running == 1
	})
}

func Test_Controller_EventsStream(t *testing.T) {
	af := fake.MakeAgentFactory(func(a *fake.Agent) {
		a.RunDuration = 10 * time.Millisecond
	})
	c := NewScheduleController(makeTestNodes("node1"), nil, af, fastConfig(), nil)
	defer c.Stop()

	if err := c.Schedule(makeTestSpec("actor", 1)); err != nil {
		t.Fatalf("schedule rejected: %v", err)
	}

	var got []domain.InstanceState
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			got = append(got, ev.NewState)
			if ev.NewState == domain.Terminated {
				want := []domain.InstanceState{domain.Launching, domain.Running, domain.Terminated}
				if len(got) != len(want) {
					t.Fatalf("expected event states %v, got %v", want, got)
				}
				for i := range want {
					if got[i] != want[i] {
						t.Fatalf("expected event states %v, got %v", want, got)
					}
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for instance events, got %v", got)
		}
	}
}
