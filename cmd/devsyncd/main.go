// devsyncd keeps remote project directories synchronized with their clients
// and drives pluggable build backends. The same binary runs as the
// supervisor (binds the listening socket, spawns one worker per CPU core)
// and as a worker (inherits the socket and serves connections).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/codefionn/devsync/internal/config"
	"github.com/codefionn/devsync/internal/logger"
	"github.com/codefionn/devsync/internal/pidfile"
	"github.com/codefionn/devsync/internal/server"
	"github.com/codefionn/devsync/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "devsyncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to the configuration file")
		listenAddr = flag.String("addr", "", "override the listen address")
		workers    = flag.Int("workers", -1, "override the worker count (0 = one per CPU core)")
		logLevel   = flag.String("log-level", "", "override the log level")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *workers >= 0 {
		cfg.Workers = *workers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if worker.IsWorker() {
		return runWorker(ctx, cfg)
	}
	return runSupervisor(ctx, cfg)
}

// runWorker serves connections from the listening socket inherited from the
// supervisor.
func runWorker(ctx context.Context, cfg *config.Config) error {
	listener, err := worker.InheritedListener()
	if err != nil {
		return err
	}

	return serve(ctx, cfg, listener, worker.MetricsAddr())
}

// runSupervisor binds the listening socket and either serves in-process
// (workers <= 1) or fans the socket out to a pool of worker processes.
func runSupervisor(ctx context.Context, cfg *config.Config) error {
	count := cfg.Workers
	if count == 0 {
		count = runtime.NumCPU()
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %s: %w", cfg.ListenAddr, err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	if cfg.PidPath != "" {
		pf := pidfile.New(cfg.PidPath)
		if err := pf.Write(); err != nil {
			listener.Close()
			return err
		}
		defer pf.Remove()
	}

	if count <= 1 {
		logger.Info("running single-process on %s", cfg.ListenAddr)
		return serve(ctx, cfg, listener, cfg.MetricsAddr)
	}

	pool, err := worker.NewPool(count, listener, os.Args[1:], cfg.MetricsAddr)
	if err != nil {
		listener.Close()
		return err
	}

	logger.Info("supervisor listening on %s with %d workers", cfg.ListenAddr, count)
	pool.Run(ctx)
	listener.Close()
	return nil
}

// serve runs the sync server against a bound listener until the context is
// cancelled.
func serve(ctx context.Context, cfg *config.Config, listener net.Listener, metricsAddr string) error {
	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		srv.Recorder().Serve(metricsAddr)
	}

	if err := srv.Start(ctx, listener); err != nil {
		return err
	}

	<-ctx.Done()
	srv.Stop()
	return nil
}
