package cluster

import (
	"reflect"
	"testing"

	"github.com/luci/go-render/render"

	"github.com/herdproject/herd/scheduler/domain"
)

func cap8() domain.ResourceVector {
	return domain.NewResourceVector(8, 8192, 1)
}

func TestState_SetAndDiff(t *testing.T) {
	st := makeState([]Node{NewIdNode("node1", cap8()), NewIdNode("node2", cap8())})

	updates := st.setAndDiff([]Node{NewIdNode("node2", cap8()), NewIdNode("node3", cap8())})
	expected := []NodeUpdate{
		NewAdd(NewIdNode("node3", cap8())),
		NewRemove("node1"),
	}
	if !reflect.DeepEqual(updates, expected) {
		t.Fatalf("Expected: %v\nGot: %v", render.Render(expected), render.Render(updates))
	}
}

func TestState_SetAndDiffNoChange(t *testing.T) {
	nodes := []Node{NewIdNode("node1", cap8())}
	st := makeState(nodes)
	if updates := st.setAndDiff(nodes); len(updates) != 0 {
		t.Errorf("expected no updates for identical membership, got %v", updates)
	}
}

func TestState_SetAndDiffDeterministicOrder(t *testing.T) {
	st := makeState(nil)
	updates := st.setAndDiff([]Node{
		NewIdNode("node3", cap8()),
		NewIdNode("node1", cap8()),
		NewIdNode("node2", cap8()),
	})
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	for i, id := range []NodeId{"node1", "node2", "node3"} {
		if updates[i].Id != id {
			t.Errorf("expected update %d to be %s, got %s", i, id, updates[i].Id)
		}
	}
}
