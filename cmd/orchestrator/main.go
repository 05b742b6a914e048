package main

import (
	"flag"
	"fmt"
	"os"

	apporch "github.com/swapall/bridge-orchestrator/pkg/app/orchestrator"
	"github.com/swapall/bridge-orchestrator/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := apporch.NewServer(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Orchestrator exited with error: %v\n", err)
		os.Exit(1)
	}
}
