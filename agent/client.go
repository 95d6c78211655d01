package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/scheduler/domain"
)

const (
	defaultCallTimeout = 30 * time.Second

	// Wait long-polls; give it room well past the agent's own poll window.
	defaultWaitTimeout = 24 * time.Hour

	// Cap on outgoing calls per agent so a reconcile burst cannot flood a node.
	defaultCallsPerSec = 10
)

// launchRequest is the wire form of a LaunchSpec for the node agent REST API.
type launchRequest struct {
	InstanceID  string `json:"instance_id"`
	Component   string `json:"component"`
	Image       string `json:"image"`
	Command     string `json:"command"`
	MountTarget string `json:"mount_target"`
	CPUCores    int64  `json:"cpu_cores"`
	MemoryMB    int64  `json:"memory_mb"`
	GPUCards    int64  `json:"gpu_cards"`
}

type waitResponse struct {
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error"`
}

// Client is a NodeAgent speaking the node agent's REST API:
// POST /instances, GET /instances/{id}/wait, DELETE /instances/{id}.
// Calls are retried with exponential backoff on transport errors and rate
// limited per agent.
type Client struct {
	baseURL string
	http    *pester.Client
	waiter  *pester.Client
	limiter *rate.Limiter
}

func NewClient(baseURL string) *Client {
	c := pester.NewExtendedClient(&http.Client{Timeout: defaultCallTimeout})
	c.MaxRetries = 3
	c.Backoff = pester.ExponentialJitterBackoff
	c.Concurrency = 1

	// The wait call is expected to block server-side, so no short timeout
	// and no retries that would duplicate a completed wait.
	w := pester.NewExtendedClient(&http.Client{Timeout: defaultWaitTimeout})
	w.MaxRetries = 1
	w.Concurrency = 1

	return &Client{
		baseURL: baseURL,
		http:    c,
		waiter:  w,
		limiter: rate.NewLimiter(rate.Limit(defaultCallsPerSec), defaultCallsPerSec),
	}
}

// NewClientFactory returns an AgentFactory that connects to each node's
// agent over http, treating the node id as 'host:agentPort'.
func NewClientFactory() AgentFactory {
	return func(node cluster.Node) NodeAgent {
		return NewClient(fmt.Sprintf("http://%s", node.Id()))
	}
}

func (c *Client) Launch(spec LaunchSpec) error {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return domain.NewError(domain.AgentUnreachable, err)
	}
	body, err := json.Marshal(&launchRequest{
		InstanceID:  spec.InstanceID,
		Component:   spec.ComponentName,
		Image:       spec.Image,
		Command:     spec.Command,
		MountTarget: spec.MountTarget,
		CPUCores:    spec.ResourceRequest.CPUCores,
		MemoryMB:    spec.ResourceRequest.MemoryMB,
		GPUCards:    spec.ResourceRequest.GPUCards,
	})
	if err != nil {
		return domain.NewError(domain.LaunchFailure, err)
	}

	resp, err := c.http.Post(c.baseURL+"/instances", "application/json", bytes.NewReader(body))
	if err != nil {
		return domain.NewError(domain.AgentUnreachable, errors.Wrapf(err, "launch %s", spec.InstanceID))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Errorf(domain.LaunchFailure, "launch %s: agent returned %s", spec.InstanceID, resp.Status)
	}
	log.Infof("Launched instance %s via %s", spec.InstanceID, c.baseURL)
	return nil
}

func (c *Client) Wait(instanceID string) (ExitStatus, error) {
	resp, err := c.waiter.Get(fmt.Sprintf("%s/instances/%s/wait", c.baseURL, instanceID))
	if err != nil {
		return ExitStatus{}, domain.NewError(domain.AgentUnreachable, errors.Wrapf(err, "wait %s", instanceID))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ExitStatus{}, domain.Errorf(domain.AgentUnreachable, "wait %s: agent returned %s", instanceID, resp.Status)
	}
	var wr waitResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return ExitStatus{}, domain.NewError(domain.AgentUnreachable, errors.Wrapf(err, "wait %s: decoding response", instanceID))
	}
	return ExitStatus{ExitCode: wr.ExitCode, Error: wr.Error}, nil
}

func (c *Client) Kill(instanceID string) error {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return domain.NewError(domain.AgentUnreachable, err)
	}
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/instances/%s", c.baseURL, instanceID), nil)
	if err != nil {
		return domain.NewError(domain.AgentUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewError(domain.AgentUnreachable, errors.Wrapf(err, "kill %s", instanceID))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Errorf(domain.AgentUnreachable, "kill %s: agent returned %s", instanceID, resp.Status)
	}
	log.Infof("Killed instance %s via %s", instanceID, c.baseURL)
	return nil
}

var _ NodeAgent = (*Client)(nil)
