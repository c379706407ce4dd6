// Entry point for the swarmflow CLI.
//
// Usage:
//
//	swarmflow validate --config swarm.yaml   # check a configuration
//	swarmflow worker --config swarm.yaml     # run a distributed worker
//	swarmflow version                        # show version info
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/swarmflow/config"
)

// Injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "worker":
		runWorker(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(args []string, fs *flag.FlagSet) *config.Config {
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runValidate(args []string) {
	cfg := loadConfig(args, flag.NewFlagSet("validate", flag.ExitOnError))
	fmt.Printf("Configuration OK: swarm %q, strategy %s, %d agents\n",
		cfg.Name, cfg.Strategy, len(cfg.Agents))
}

func printVersion() {
	fmt.Printf("swarmflow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `swarmflow - multi-agent swarm coordination engine

Commands:
  worker    Run a distributed job worker
  validate  Validate a swarm configuration
  version   Show version information

Run 'swarmflow <command> -h' for command flags.`)
}
