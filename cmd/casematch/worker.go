package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/casematch/internal/config"
	"github.com/kalambet/casematch/internal/pipeline"
	"github.com/kalambet/casematch/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run pipeline workers for one or more lanes (foreground)",
	Long: `Run pipeline workers. Each lane gets the number of goroutines set by
worker.concurrency.<lane>.

Examples:
  casematch worker
  casematch worker --lanes media,signatures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lanesFlag, _ := cmd.Flags().GetString("lanes")
		lanes, err := parseLanes(lanesFlag)
		if err != nil {
			return err
		}
		return runWorker(lanes)
	},
}

func init() {
	workerCmd.Flags().String("lanes", "", "comma-separated lanes to serve (default: all)")
}

func parseLanes(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return pipeline.Lanes, nil
	}
	known := make(map[string]bool, len(pipeline.Lanes))
	for _, l := range pipeline.Lanes {
		known[l] = true
	}
	var lanes []string
	for _, l := range strings.Split(s, ",") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if !known[l] {
			return nil, fmt.Errorf("unknown lane %q (valid: %s)", l, strings.Join(pipeline.Lanes, ", "))
		}
		lanes = append(lanes, l)
	}
	if len(lanes) == 0 {
		return nil, fmt.Errorf("no lanes given")
	}
	return lanes, nil
}

// newPool registers every pipeline task on a worker pool.
func newPool(store worker.JobStore, p *pipeline.Pipeline, cfg config.WorkerConfig) *worker.Pool {
	pool := worker.New(store, worker.Config{
		Concurrency:   cfg.Concurrency,
		PollInterval:  cfg.PollInterval,
		TaskTimeLimit: cfg.TaskTimeLimit,
	})
	for name, h := range p.Handlers() {
		pool.Handle(name, pipeline.Specs[name].Timeout, worker.HandlerFunc(h))
	}
	return pool
}

func runWorker(lanes []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	pool := newPool(rt.store, rt.pipeline, cfg.Worker).WithLogger(rt.log)
	fmt.Fprintf(os.Stderr, "casematch worker %s serving lanes: %s\n", version, strings.Join(lanes, ", "))
	return pool.Run(ctx, lanes)
}
