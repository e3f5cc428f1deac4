package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/aonescu/miharu/internal/clusterapi"
	"github.com/aonescu/miharu/internal/config"
	"github.com/aonescu/miharu/internal/history"
	"github.com/aonescu/miharu/internal/watcher"
)

func main() {
	fmt.Println("miharu - Multi-Cluster Pod/PVC Phase Watcher")

	// Environment: env var, overridden by the first argument
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}
	if len(os.Args) > 1 {
		environment = os.Args[1]
	}
	if !config.SupportedEnvironment(environment) {
		fmt.Printf("Error: Unsupported environment '%s'\n", environment)
		fmt.Printf("Supported environments: %v\n", config.SupportedEnvironments)
		os.Exit(1)
	}

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}

	cfg, err := config.Load(configDir, environment)
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg.Watcher.LogLevel)
	klog.Infof("Starting miharu in '%s' environment", environment)

	// Notification sink
	client := clusterapi.NewClient(cfg.ClusterAPI.BaseURL, cfg.ClusterAPI.Auth.APIKey, cfg.ClusterAPI.Timeout())
	if client.HealthCheck() {
		klog.Infof("ClusterAPI reachable at %s", cfg.ClusterAPI.BaseURL)
	} else {
		// Delivery failures are tolerated per event; a dead sink at startup
		// is worth a loud warning but not an abort.
		klog.Warningf("ClusterAPI health check failed for %s, notifications may be dropped", cfg.ClusterAPI.BaseURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Phase history, bounded by TTL sweeps and Deleted-event eviction
	podHistory := history.NewMemoryStore()
	pvcHistory := history.NewMemoryStore()
	ttl := cfg.Watcher.HistoryTTL()
	podHistory.StartSweeper(ctx, sweepInterval(ttl), ttl)
	pvcHistory.StartSweeper(ctx, sweepInterval(ttl), ttl)

	supervisor := watcher.NewSupervisor(client, podHistory, pvcHistory, watcher.NewOptions(cfg))
	if err := supervisor.StartAll(ctx, cfg.Kubernetes.Clusters); err != nil {
		klog.Exitf("Watcher failed: %v", err)
	}
	klog.Infof("All cluster sessions terminated, exiting")
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

// initLogging wires klog and maps the configured log level onto its
// verbosity scale.
func initLogging(level string) {
	klog.InitFlags(nil)
	verbosity := "0"
	switch strings.ToUpper(level) {
	case "DEBUG":
		verbosity = "4"
	case "TRACE":
		verbosity = "6"
	}
	_ = flag.Set("v", verbosity)
	flag.Parse()
}
