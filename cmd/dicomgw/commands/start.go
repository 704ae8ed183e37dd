package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/api"
	"github.com/marmos91/dicomgw/pkg/config"
	"github.com/marmos91/dicomgw/pkg/gateway"
	"github.com/marmos91/dicomgw/pkg/metrics"
	"github.com/marmos91/dicomgw/pkg/metrics/prometheus"
	"github.com/marmos91/dicomgw/pkg/storage"
	"github.com/spf13/cobra"

	// Registers the "loopback" protocol stack.
	_ "github.com/marmos91/dicomgw/pkg/dimse/loopback"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the gateway in the foreground.

The gateway is meant to run under a process supervisor (systemd, a container
runtime or the edge device runtime). Configuration is read from --config, the
default location at $XDG_CONFIG_HOME/dicomgw/config.yaml, or, when neither
exists, from defaults and the environment alone.

Examples:
  # Start with the default config
  dicomgw start

  # Start with a custom config file
  dicomgw start --config /etc/dicomgw/config.yaml

  # Environment-only deployment
  AWS_IOT_THING_NAME=edge-1 BUCKETNAME=images dicomgw start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
}

// loadStartConfig falls back to defaults plus environment when no file is
// available, which is how the edge runtime deploys the gateway.
func loadStartConfig() (*config.Config, error) {
	if GetConfigFile() == "" && !config.DefaultConfigExists() {
		return config.Load("")
	}
	return config.MustLoad(GetConfigFile())
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadStartConfig()
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dicomgw",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dicomgw",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}, cfg.Edge.ID)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("dicomgw starting", "version", Version, logger.KeyEdgeID, cfg.Edge.ID)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Metrics constructors return nil implementations until the registry
	// exists, so the registry must be created first.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer, err = metrics.NewServer(cfg.Metrics.Port)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}
	metricsSet := prometheus.NewMetricsSet()

	components, closeAll, err := buildComponents(ctx, cfg, prometheus.NewStorageMetrics(), metricsSet)
	if err != nil {
		return err
	}
	defer closeAll()

	engine, err := gateway.NewEngine(config.GatewayOptions(cfg), components)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, fmt.Appendf(nil, "%d", os.Getpid()), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serveErr := make(chan error, 2)
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serveErr <- err
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	var apiServer *api.Server
	if cfg.API.IsEnabled() {
		apiServer = api.NewServer(cfg.API, engine)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				serveErr <- err
			}
		}()
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Gateway is running. Press Ctrl+C to stop.")

	listenCheck := time.NewTicker(time.Second)
	defer listenCheck.Stop()

	var runErr error
wait:
	for {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, initiating graceful shutdown")
			break wait
		case err := <-serveErr:
			logger.Error("HTTP server failed", "error", err)
			runErr = err
			break wait
		case <-listenCheck.C:
			if err := engine.ListenErr(); err != nil {
				runErr = fmt.Errorf("inbound listener: %w", err)
				break wait
			}
		}
	}

	engine.Stop(cfg.ShutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn("API server shutdown error", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error", "error", err)
		}
	}
	cancel()

	if runErr != nil {
		return runErr
	}
	logger.Info("Gateway stopped gracefully")
	return nil
}

// buildComponents opens every backend the engine needs. The returned
// function closes whatever was opened, in reverse order.
func buildComponents(ctx context.Context, cfg *config.Config, storageMetrics storage.Metrics, set gateway.MetricsSet) (gateway.Components, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("Close failed", "error", err)
			}
		}
	}
	fail := func(err error) (gateway.Components, func(), error) {
		closeAll()
		return gateway.Components{}, func() {}, err
	}

	st, err := config.CreateStateStore(&cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("failed to open state store: %w", err))
	}
	closers = append(closers, st.Close)

	blobStore, err := config.CreateBlobStore(ctx, cfg.Blob)
	if err != nil {
		return fail(fmt.Errorf("failed to create blob store: %w", err))
	}
	closers = append(closers, blobStore.Close)

	q, err := config.CreateQueueClient(ctx, cfg.Queue, cfg.Edge.ID)
	if err != nil {
		return fail(fmt.Errorf("failed to create queue client: %w", err))
	}
	closers = append(closers, q.Close)

	ldg, err := config.OpenLedger(cfg.Ledger)
	if err != nil {
		return fail(fmt.Errorf("failed to open ledger: %w", err))
	}
	if ldg != nil {
		closers = append(closers, ldg.Close)
	}

	if err := os.MkdirAll(cfg.Edge.Workdir, 0755); err != nil {
		return fail(fmt.Errorf("failed to create work directory: %w", err))
	}
	mon, err := config.CreateMonitor(cfg, storageMetrics)
	if err != nil {
		return fail(fmt.Errorf("failed to create storage monitor: %w", err))
	}

	stack, err := config.OpenStack(cfg.DIMSE)
	if err != nil {
		return fail(fmt.Errorf("failed to open protocol stack: %w", err))
	}

	logger.Info("Backends ready",
		"database", cfg.Database.Type,
		"blob", cfg.Blob.Type,
		"queue", cfg.Queue.Type,
		"ledger", ldg != nil,
		"stack", cfg.DIMSE.Stack)

	return gateway.Components{
		State:   st,
		Blob:    blobStore,
		Queue:   q,
		Stack:   stack,
		Monitor: mon,
		Ledger:  ldg,
		Metrics: set,
	}, closeAll, nil
}
