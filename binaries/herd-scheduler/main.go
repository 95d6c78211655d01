package main

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/herdproject/herd/agent"
	"github.com/herdproject/herd/agent/fake"
	"github.com/herdproject/herd/cloud/cluster"
	"github.com/herdproject/herd/common/stats"
	"github.com/herdproject/herd/scheduler/domain"
	"github.com/herdproject/herd/scheduler/server"
)

var (
	numNodes    int
	cpuCores    int64
	memoryMB    int64
	gpuCards    int64
	agentAddrs  string
	replicas    int
	mode        string
	metric      string
	runDuration time.Duration
	configPath  string
	logLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "herd-scheduler",
		Short: "herd-scheduler places and supervises component replicas on a cluster",
		PersistentPreRun: func(*cobra.Command, []string) {
			if level, err := log.ParseLevel(logLevel); err == nil {
				log.SetLevel(level)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "logrus log level")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a schedule on an in-memory cluster (or real agents via --agents)",
		RunE:  run,
	}
	runCmd.Flags().IntVar(&numNodes, "nodes", 5, "number of in-memory nodes to simulate")
	runCmd.Flags().Int64Var(&cpuCores, "cpu", 8, "cpu cores per node")
	runCmd.Flags().Int64Var(&memoryMB, "mem_mb", 16384, "memory MB per node")
	runCmd.Flags().Int64Var(&gpuCards, "gpu", 0, "gpu cards per node")
	runCmd.Flags().StringVar(&agentAddrs, "agents", "", "comma separated host:port node agents; overrides --nodes")
	runCmd.Flags().IntVar(&replicas, "replicas", 10, "replica count for the sample component")
	runCmd.Flags().StringVar(&mode, "mode", "single-metric-balanced", "allocation mode")
	runCmd.Flags().StringVar(&metric, "metric", "cpu", "balancing metric (cpu, memory, gpu)")
	runCmd.Flags().DurationVar(&runDuration, "run_duration", 2*time.Second, "simulated instance run time (in-memory nodes only)")
	runCmd.Flags().StringVar(&configPath, "sched_config", "", "path to a scheduler configuration JSON file")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	allocMode, err := domain.ParseAllocationMode(mode)
	if err != nil {
		return err
	}
	balancingMetric, err := domain.ParseMetric(metric)
	if err != nil {
		return err
	}

	var config server.SchedulerConfiguration
	if configPath != "" {
		data, err := ioutil.ReadFile(configPath)
		if err != nil {
			return err
		}
		if config, err = server.ParseSchedulerConfiguration(data); err != nil {
			return err
		}
	}

	capacity := domain.NewResourceVector(cpuCores, memoryMB, gpuCards)
	var nodes []cluster.Node
	var af agent.AgentFactory
	if agentAddrs != "" {
		for _, addr := range strings.Split(agentAddrs, ",") {
			nodes = append(nodes, cluster.NewIdNode(strings.TrimSpace(addr), capacity))
		}
		af = agent.NewClientFactory()
	} else {
		nodes = cluster.NewIdNodes(numNodes, capacity)
		af = fake.MakeAgentFactory(func(a *fake.Agent) {
			a.RunDuration = runDuration
		})
	}
	log.Infof("Running with %d nodes of capacity %v", len(nodes), capacity)

	controller := server.NewScheduleController(nodes, nil, af, config, stats.NewStatsReceiver())
	defer controller.Stop()

	go func() {
		for ev := range controller.Events() {
			log.WithFields(log.Fields{
				"schedule":  ev.ScheduleName,
				"component": ev.ComponentName,
				"instance":  ev.InstanceID,
			}).Infof("%v -> %v (%s)", ev.OldState, ev.NewState, ev.Reason)
		}
	}()

	spec := &domain.ScheduleSpec{
		ScheduleName:    "demo",
		AllocationMode:  allocMode,
		BalancingMetric: balancingMetric,
		JobNames:        []string{"worker"},
		Components: map[string]*domain.ComponentSpec{
			"worker": {
				Name:            "worker",
				Image:           "herd/demo-worker:latest",
				ResourceRequest: domain.NewResourceVector(2, 2048, 0),
				ReplicaCount:    replicas,
			},
		},
	}
	if err := controller.Schedule(spec); err != nil {
		return err
	}

	for {
		st, err := controller.Status("demo")
		if err != nil {
			return err
		}
		ws := st.Components["worker"]
		log.Infof("schedule %s: %v (pending %d, launching %d, running %d, completed %d, dead %d)",
			st.ScheduleName, st.State, ws.Pending, ws.Launching, ws.Running, ws.Completed, ws.FailedDead)
		if st.State.IsDone() {
			if removed := controller.CleanSchedules(); len(removed) > 0 {
				log.Infof("cleaned: %v", removed)
			}
			return nil
		}
		time.Sleep(time.Second)
	}
}
