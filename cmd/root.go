package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/samialraiee/aps-inference-scheduler/sim"
)

var (
	// Logging
	logLevel string // Log verbosity level

	// Scheduler config
	wBaseMS       int     // Base batch window, milliseconds
	tau           float64 // Entropy decay constant
	maxBatch      int     // Max requests per dispatched batch
	alpha         float64 // Aging coefficient, priority-units/sec
	entropyWindow int     // Inter-arrival samples retained

	// GPU config
	kvMax       int64   // KV-cache budget, tokens
	prefillRate float64 // Prefill throughput, tokens/sec
	decodeBase  float64 // Base per-item decode throughput, tokens/sec
	costPerHour float64 // USD/hour, used for cost_per_mtoken

	// Tenant configuration
	tenantManifestPath string // Path to YAML tenant manifest (overrides defaults below)

	// Synthetic workload generator (cmd-only, not part of the core API)
	workloadSeed   int64
	workloadRate   float64 // requests/sec per tenant
	promptTokens   int
	promptStdev    int
	promptMin      int
	promptMax      int

	// Run duration
	horizon      time.Duration // wall-clock duration to run before shutting down
	metricsEvery time.Duration // interval between metrics_snapshot prints
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "aps-inference-scheduler",
	Short: "Multi-tenant admission and scheduling engine for GPU-backed inference workloads",
}

// serveCmd starts the engine with a synthetic multi-tenant workload and
// runs until --horizon elapses or SIGINT/SIGTERM is received.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling engine against a synthetic workload",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		schedulerCfg := sim.NewSchedulerConfig(float64(wBaseMS)/1000.0, tau, maxBatch, alpha, entropyWindow)
		gpuCfg := sim.NewGPUConfig(kvMax, prefillRate, decodeBase, costPerHour)

		var tenants []sim.TenantSpec
		if tenantManifestPath != "" {
			tenants, err = sim.LoadTenantManifest(tenantManifestPath)
			if err != nil {
				logrus.Fatalf("Failed to load tenant manifest: %v", err)
			}
		} else {
			tenants = defaultTenants()
		}

		engineCfg := sim.NewEngineConfig(schedulerCfg, gpuCfg, tenants)
		engine := sim.NewEngine(engineCfg, sim.SystemClock{})

		logrus.Infof("Starting engine: w_base=%dms tau=%.2f max_batch=%d kv_max=%d tenants=%d",
			wBaseMS, tau, maxBatch, kvMax, len(tenants))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine.Start(ctx)

		for i, t := range tenants {
			spec := sim.NewWorkloadSpec(t.TenantID, workloadRate, promptTokens, promptStdev, promptMin, promptMax, 1, 10)
			gen := sim.NewWorkloadGenerator(spec, workloadSeed+int64(i))
			go gen.Run(ctx, engine)
		}

		ticker := time.NewTicker(metricsEvery)
		defer ticker.Stop()

		deadline := time.After(horizon)
		for {
			select {
			case <-ctx.Done():
				goto shutdown
			case <-deadline:
				goto shutdown
			case <-ticker.C:
				printSnapshot(engine)
			}
		}

	shutdown:
		logrus.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := engine.Shutdown(shutdownCtx, 2*time.Second); err != nil {
			logrus.Warnf("Shutdown did not complete cleanly: %v", err)
		}

		printSnapshot(engine)
		logrus.Info("Engine stopped.")
	},
}

func defaultTenants() []sim.TenantSpec {
	return []sim.TenantSpec{
		sim.NewTenantSpec("tenant_a", 500.0, 5000.0),
		sim.NewTenantSpec("tenant_b", 300.0, 3000.0),
		sim.NewTenantSpec("tenant_c", 1000.0, 10000.0),
	}
}

func printSnapshot(engine *sim.Engine) {
	snap := engine.MetricsSnapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		fmt.Println("Error marshalling metrics snapshot:", err)
		return
	}
	fmt.Println("=== metrics_snapshot ===")
	fmt.Println(string(data))
}

// Execute runs the CLI root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands.
func init() {
	serveCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	serveCmd.Flags().IntVar(&wBaseMS, "w-base-ms", sim.DefaultWBaseMS, "Base batch window, milliseconds")
	serveCmd.Flags().Float64Var(&tau, "tau", sim.DefaultTau, "Entropy decay constant")
	serveCmd.Flags().IntVar(&maxBatch, "max-batch", sim.DefaultMaxBatch, "Max requests per dispatched batch")
	serveCmd.Flags().Float64Var(&alpha, "alpha", sim.DefaultAlpha, "Aging coefficient, priority-units per second")
	serveCmd.Flags().IntVar(&entropyWindow, "entropy-window", sim.DefaultEntropyWindow, "Inter-arrival samples retained for entropy")

	serveCmd.Flags().Int64Var(&kvMax, "kv-max", sim.DefaultKVMax, "KV-cache budget, tokens")
	serveCmd.Flags().Float64Var(&prefillRate, "prefill-rate", sim.DefaultPrefillRate, "Prefill throughput, tokens/sec")
	serveCmd.Flags().Float64Var(&decodeBase, "decode-base", sim.DefaultDecodeBase, "Base per-item decode throughput, tokens/sec")
	serveCmd.Flags().Float64Var(&costPerHour, "cost-per-hour", sim.DefaultA100CostPerHr, "USD/hour, used for cost_per_mtoken")

	serveCmd.Flags().StringVar(&tenantManifestPath, "tenant-manifest", "", "Path to YAML tenant manifest (overrides built-in defaults)")

	serveCmd.Flags().Int64Var(&workloadSeed, "workload-seed", 42, "Seed for synthetic workload generation")
	serveCmd.Flags().Float64Var(&workloadRate, "workload-rate", 5.0, "Synthetic requests per second, per tenant")
	serveCmd.Flags().IntVar(&promptTokens, "prompt-tokens", 200, "Average synthetic request token count")
	serveCmd.Flags().IntVar(&promptStdev, "prompt-tokens-stdev", 80, "Stddev of synthetic request token count")
	serveCmd.Flags().IntVar(&promptMin, "prompt-tokens-min", 10, "Min synthetic request token count")
	serveCmd.Flags().IntVar(&promptMax, "prompt-tokens-max", 2000, "Max synthetic request token count")

	serveCmd.Flags().DurationVar(&horizon, "horizon", 30*time.Second, "Wall-clock duration to run before shutting down")
	serveCmd.Flags().DurationVar(&metricsEvery, "metrics-interval", 5*time.Second, "Interval between metrics_snapshot prints")

	rootCmd.AddCommand(serveCmd)
}
