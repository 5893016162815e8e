// Command clustdockd is the clustdock management daemon: it accepts
// client connections, discovers nodes across the managed-host fleet,
// and fans out spawn/stop work to re-exec'd child processes.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clustdock/clustdock/pkg/config"
	"github.com/clustdock/clustdock/pkg/dispatcher"
	"github.com/clustdock/clustdock/pkg/fanout"
	"github.com/clustdock/clustdock/pkg/health"
	"github.com/clustdock/clustdock/pkg/hooks"
	"github.com/clustdock/clustdock/pkg/log"
	"github.com/clustdock/clustdock/pkg/metrics"
	"github.com/clustdock/clustdock/pkg/runtime"
	"github.com/clustdock/clustdock/pkg/types"
	"github.com/clustdock/clustdock/pkg/worker"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// configEnvVar carries the daemon's config path across the fan-out
// re-exec boundary: a fan-out child is launched with no flags beyond
// fanout.ChildFlag, so it recovers the path from its inherited
// environment rather than from argv.
const configEnvVar = "CLUSTDOCK_CONFIG"

func main() {
	// Must be checked before any cobra flag parsing: a fan-out child is
	// invoked as "<exe> __clustdock_fanout_child" with no other flags.
	if fanout.IsChildInvocation() {
		runChild()
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clustdockd",
	Short: "clustdockd manages ephemeral clusters of container and VM nodes",
	Long: `clustdockd accepts commands from thin command-line clients to list,
spawn, stop, and query the IP of nodes addressed by range-based cluster
names, materializing each node on a managed host via containerd or
libvirt.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"clustdockd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().StringP("config", "c", "/etc/clustdock/clustdock.yaml", "Path to clustdock.yaml")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Propagate the config path to fan-out children before anything
	// might fork one.
	if err := os.Setenv(configEnvVar, configPath); err != nil {
		return fmt.Errorf("setting %s: %w", configEnvVar, err)
	}

	profiles, err := cfg.ResolveProfiles()
	if err != nil {
		return fmt.Errorf("resolving profiles: %w", err)
	}
	hosts, err := cfg.Hosts.Resolve()
	if err != nil {
		return fmt.Errorf("resolving managed hosts: %w", err)
	}
	if len(hosts) == 0 {
		return fmt.Errorf("no managed hosts configured")
	}

	log.Info(fmt.Sprintf("clustdockd starting: %d managed host(s), %d profile(s)", len(hosts), len(profiles)))

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}
	defer listener.Close()

	workers := make([]*worker.Worker, cfg.Workers)
	for i := range workers {
		cache := runtime.NewCache(containerdFactory(cfg), hypervisorFactory(cfg))
		workers[i] = worker.New(cache, profiles, hosts)
	}

	dsp := dispatcher.New(listener, workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := dsp.Run(ctx); err != nil {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()
	log.Info("dispatcher listening on " + cfg.ListenAddr)

	collector := worker.NewMetricsCollector(workers[0], 15*time.Second)
	collector.Start()

	registry := health.NewRegistry(health.DefaultConfig())
	for host := range hosts {
		registry.Register(host+"/container", health.NewDriverChecker(workers[0].Cache(), host, types.KindContainer))
		registry.Register(host+"/vm", health.NewDriverChecker(workers[0].Cache(), host, types.KindVM))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", registry.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	log.Info("metrics and health endpoints listening on " + cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		log.Errorf("fatal: %v", err)
	}

	cancel()
	collector.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = dsp.Close()

	log.Info("shutdown complete")
	return nil
}

func containerdFactory(cfg *config.Config) runtime.Factory {
	return func(ctx context.Context, host string) (runtime.HostDriver, error) {
		return runtime.NewContainerDriver(host, cfg.Containerd.SocketPath)
	}
}

func hypervisorFactory(cfg *config.Config) runtime.Factory {
	return func(ctx context.Context, host string) (runtime.HostDriver, error) {
		sshCfg := runtime.SSHConfig{User: cfg.Libvirt.SSHUser, KeyPath: cfg.Libvirt.SSHKey}
		return runtime.NewHypervisorDriver(host, sshCfg, cfg.Libvirt.StorageDir)
	}
}

// runChild is the fan-out child entrypoint (spec.md §5: each spawn/stop
// runs isolated in its own process). It rebuilds just enough of the
// daemon's configuration to open one driver connection, runs the
// node's lifecycle hooks around the driver call, and reports the
// outcome on stdout for the parent to collect.
func runChild() {
	cfg, err := config.Load(os.Getenv(configEnvVar))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fanout child: loading config:", err)
		os.Exit(1)
	}
	fanout.Main(newExecutor(cfg))
}

func newExecutor(cfg *config.Config) fanout.Executor {
	containerdF := containerdFactory(cfg)
	hypervisorF := hypervisorFactory(cfg)

	return func(ctx context.Context, job fanout.Job) fanout.Result {
		node := job.Node

		var driver runtime.HostDriver
		var err error
		if node.Kind == types.KindVM {
			driver, err = hypervisorF(ctx, node.Host)
		} else {
			driver, err = containerdF(ctx, node.Host)
		}
		if err != nil {
			return fanout.Result{Name: node.Name, Err: err.Error()}
		}
		defer driver.Close()

		switch job.Op {
		case fanout.OpSpawn:
			return spawnOne(ctx, driver, &node)
		case fanout.OpStop:
			return stopOne(ctx, driver, &node)
		default:
			return fanout.Result{Name: node.Name, Err: "unknown fan-out op " + string(job.Op)}
		}
	}
}

func spawnOne(ctx context.Context, driver runtime.HostDriver, node *types.Node) fanout.Result {
	kind := string(node.Kind)
	if _, err := hooks.Run(ctx, node.BeforeStart, node.Name, kind, node.Host); err != nil {
		return fanout.Result{Name: node.Name, Err: err.Error()}
	}
	if err := driver.Start(ctx, node); err != nil {
		return fanout.Result{Name: node.Name, Err: err.Error()}
	}
	if _, err := hooks.Run(ctx, node.AfterStart, node.Name, kind, node.Host); err != nil {
		return fanout.Result{Name: node.Name, Err: err.Error()}
	}
	return fanout.Result{Name: node.Name}
}

func stopOne(ctx context.Context, driver runtime.HostDriver, node *types.Node) fanout.Result {
	if err := driver.Stop(ctx, node.Name); err != nil {
		return fanout.Result{Name: node.Name, Err: err.Error()}
	}
	if _, err := hooks.Run(ctx, node.AfterEnd, node.Name, string(node.Kind), node.Host); err != nil {
		return fanout.Result{Name: node.Name, Err: err.Error()}
	}
	return fanout.Result{Name: node.Name}
}
