package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/fleetsched/internal/bus/inproc"
	"github.com/iudanet/fleetsched/internal/conflict"
	"github.com/iudanet/fleetsched/internal/monitor"
	"github.com/iudanet/fleetsched/internal/node"
	"github.com/iudanet/fleetsched/internal/registry"
	"github.com/iudanet/fleetsched/internal/registry/boltstore"
	"github.com/iudanet/fleetsched/internal/registry/sqlitestore"
	"github.com/iudanet/fleetsched/internal/registry/yamlstore"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	nodeVersion := flag.Uint64("node-version", 0, "Schedule node version (replacement nodes start higher)")
	registryDriver := flag.String("registry", "yaml", "Participant registry driver: yaml, bolt or sqlite")
	registryPath := flag.String("registry-path", yamlstore.DefaultPath, "Participant registry location")
	heartbeatPeriod := flag.Duration("heartbeat-period", time.Second, "Heartbeat period (and lease duration)")
	mirrorUpdatePeriod := flag.Duration("mirror-update-period", 10*time.Millisecond, "Mirror update period")
	queryCleanupPeriod := flag.Duration("query-cleanup-period", 10*time.Second, "Query garbage collection period")
	queryGracePeriod := flag.Duration("query-grace-period", time.Minute, "Grace period for queries without subscribers")
	withMonitor := flag.Bool("monitor", false, "Run the heartbeat monitor alongside the node")
	logJSON := flag.Bool("log-json", false, "Log in JSON format")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := newLogger(*logJSON)

	if err := run(logger, runConfig{
		nodeVersion:        *nodeVersion,
		registryDriver:     *registryDriver,
		registryPath:       *registryPath,
		heartbeatPeriod:    *heartbeatPeriod,
		mirrorUpdatePeriod: *mirrorUpdatePeriod,
		queryCleanupPeriod: *queryCleanupPeriod,
		queryGracePeriod:   *queryGracePeriod,
		withMonitor:        *withMonitor,
	}); err != nil {
		logger.Error("Schedule node failed", "error", err)
		os.Exit(1)
	}
}

type runConfig struct {
	nodeVersion        uint64
	registryDriver     string
	registryPath       string
	heartbeatPeriod    time.Duration
	mirrorUpdatePeriod time.Duration
	queryCleanupPeriod time.Duration
	queryGracePeriod   time.Duration
	withMonitor        bool
}

func run(logger *slog.Logger, cfg runConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openRegistry(ctx, cfg.registryDriver, cfg.registryPath)
	if err != nil {
		// реестр участников обязан загрузиться: без него узел не стартует
		return fmt.Errorf("open participant registry: %w", err)
	}
	defer store.Close()

	b := inproc.New()
	defer b.Close()

	n, err := node.New(ctx, node.Config{
		NodeVersion:        cfg.nodeVersion,
		HeartbeatPeriod:    cfg.heartbeatPeriod,
		QueryCleanupPeriod: cfg.queryCleanupPeriod,
		QueryGracePeriod:   cfg.queryGracePeriod,
		MirrorUpdatePeriod: cfg.mirrorUpdatePeriod,
	}, b, store, conflict.ProximityOracle{}, nil, logger)
	if err != nil {
		return err
	}

	n.Start()
	defer n.Close()

	if cfg.withMonitor {
		m, err := monitor.New(b, cfg.heartbeatPeriod, logger)
		if err != nil {
			return fmt.Errorf("start heartbeat monitor: %w", err)
		}
		m.Start()
		defer m.Close()
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

func openRegistry(ctx context.Context, driver, path string) (registry.Store, error) {
	switch driver {
	case "yaml":
		return yamlstore.New(path)
	case "bolt":
		return boltstore.New(path)
	case "sqlite":
		return sqlitestore.New(ctx, path)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", driver)
	}
}

func newLogger(jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printVersion() {
	fmt.Printf("fleetsched Schedule Node\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
