package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/herdproject/herd/scheduler/domain"
)

func TestClient_Launch(t *testing.T) {
	var gotReq launchRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/instances" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding launch request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	err := c.Launch(LaunchSpec{
		InstanceID:      "inst1",
		ComponentName:   "actor",
		Image:           "train/actor:latest",
		Command:         "python actor.py",
		ResourceRequest: domain.NewResourceVector(2, 2048, 0),
	})
	if err != nil {
		t.Fatalf("expected launch to succeed, got %v", err)
	}
	if gotReq.InstanceID != "inst1" || gotReq.CPUCores != 2 || gotReq.MemoryMB != 2048 {
		t.Errorf("unexpected launch request on the wire: %+v", gotReq)
	}
}

func TestClient_LaunchRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of disk", http.StatusInternalServerError)
	}))
	defer ts.Close()

	err := NewClient(ts.URL).Launch(LaunchSpec{InstanceID: "inst1"})
	if !domain.IsKind(err, domain.LaunchFailure) {
		t.Errorf("expected LaunchFailure for rejected launch, got %v", err)
	}
}

func TestClient_Wait(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instances/inst1/wait" {
			t.Errorf("unexpected wait path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(waitResponse{ExitCode: 3, Error: "oom"})
	}))
	defer ts.Close()

	st, err := NewClient(ts.URL).Wait("inst1")
	if err != nil {
		t.Fatalf("expected wait to succeed, got %v", err)
	}
	if st.Ok() || st.ExitCode != 3 || st.Error != "oom" {
		t.Errorf("unexpected exit status %+v", st)
	}
}

func TestClient_Kill(t *testing.T) {
	killed := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/instances/inst1" {
			killed = true
		}
	}))
	defer ts.Close()

	if err := NewClient(ts.URL).Kill("inst1"); err != nil {
		t.Fatalf("expected kill to succeed, got %v", err)
	}
	if !killed {
		t.Errorf("expected DELETE /instances/inst1 to reach the agent")
	}
}

// Connection failures surface as AgentUnreachable, never as panics or raw
// transport errors.
func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	c := NewClient(ts.URL)
	if err := c.Launch(LaunchSpec{InstanceID: "inst1"}); !domain.IsKind(err, domain.AgentUnreachable) {
		t.Errorf("expected AgentUnreachable from launch, got %v", err)
	}
	if err := c.Kill("inst1"); !domain.IsKind(err, domain.AgentUnreachable) {
		t.Errorf("expected AgentUnreachable from kill, got %v", err)
	}
	if _, err := c.Wait("inst1"); !domain.IsKind(err, domain.AgentUnreachable) {
		t.Errorf("expected AgentUnreachable from wait, got %v", err)
	}
}
