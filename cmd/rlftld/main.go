// Command rlftld runs the FTL garbage-collection simulator.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dray-io/rlftl/internal/config"
	"github.com/dray-io/rlftl/internal/logging"
	"github.com/dray-io/rlftl/internal/sim"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Exit codes: 0 normal completion, 1 fatal invariant breach, 2 unreadable
// configuration.
const (
	exitOK        = 0
	exitInvariant = 1
	exitConfig    = 2
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("rlftld version %s (built %s)\n", version, buildTime)
		os.Exit(exitOK)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitConfig)
	}

	switch os.Args[1] {
	case "simulate":
		runSimulate(os.Args[2:])
	case "version":
		fmt.Printf("rlftld version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitConfig)
	}
}

func printUsage() {
	fmt.Println(`Usage: rlftld <command> [options]

Commands:
  simulate    Run the GC simulation for the configured workload
  version     Print version information

Run 'rlftld simulate --help' for simulation options.`)
}

func runSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	policyName := fs.String("policy", "", "Override GC policy (default, lazy_rtgc, rl_baseline, rl_intensive, rl_aggressive)")
	tracePath := fs.String("trace", "", "Override trace file and switch the workload to trace mode")
	outputDir := fs.String("output", "", "Override metrics output directory")
	seed := fs.Int64("seed", 0, "Override workload and policy RNG seed")

	fs.Usage = func() {
		fmt.Println(`Usage: rlftld simulate [options]

Run the FTL garbage-collection simulation.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(exitConfig)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitConfig)
	}

	if *policyName != "" {
		cfg.GC.Policy = *policyName
	}
	if *tracePath != "" {
		cfg.Workload.Mode = "trace"
		cfg.Workload.TracePath = *tracePath
	}
	if *outputDir != "" {
		cfg.Observability.OutputDir = *outputDir
	}
	if *seed != 0 {
		cfg.Workload.Seed = *seed
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(exitConfig)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	logger.Infof("starting simulation", map[string]any{
		"policy":   cfg.GC.Policy,
		"blocks":   cfg.Device.TotalBlocks,
		"workload": cfg.Workload.Mode,
		"version":  version,
	})

	simulator, err := sim.Build(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build simulator: %v\n", err)
		os.Exit(exitConfig)
	}

	if err := simulator.Run(); err != nil {
		logger.Errorf("simulation aborted", map[string]any{"error": err.Error()})
		os.Exit(exitInvariant)
	}

	logger.Info("simulation complete")
}
