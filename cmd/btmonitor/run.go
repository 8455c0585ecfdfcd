// cmd/btmonitor/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/bt-monitor/internal/config"
	btlog "github.com/tamzrod/bt-monitor/internal/log"
	"github.com/tamzrod/bt-monitor/internal/mirror"
	"github.com/tamzrod/bt-monitor/internal/publisher"
	"github.com/tamzrod/bt-monitor/internal/sim"
	"github.com/tamzrod/bt-monitor/internal/status"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run the simulated tree and publish it to remote debuggers",
		Example: `  # Serve the configured tree on the configured port
  btmonitor run monitor.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, args[0])
		},
	}
}

func run(ctx context.Context, cfgPath string) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)

	logger, err := btlog.New(btlog.Config{
		Level:     cfg.Log.Level,
		Format:    btlog.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// --------------------
	// Tree + publisher
	// --------------------

	tr, simCfg, err := sim.Build(cfg.Tree, cfg.Executor)
	if err != nil {
		return fmt.Errorf("tree build failed: %w", err)
	}
	// the publisher only holds weak references to the subtrees
	defer runtime.KeepAlive(tr)

	srv, err := publisher.New(publisher.NewPortRegistry(), tr, publisher.Config{
		Port:        cfg.Publisher.Port,
		Heartbeat:   time.Duration(*cfg.Publisher.HeartbeatMs) * time.Millisecond,
		SendTimeout: time.Duration(cfg.Publisher.SendTimeoutMs) * time.Millisecond,
		Notify:      *cfg.Publisher.Notify,
	}, publisher.WithLogger(logger))
	if err != nil {
		return err
	}
	defer srv.Close()

	ex, err := sim.New(simCfg, srv)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// ---- executor ----
	cycles := make(chan sim.Cycle)
	g.Go(func() error {
		ex.Run(ctx, cycles)
		return nil
	})
	g.Go(func() error {
		execLog := btlog.WithComponent(logger, "executor")
		for {
			select {
			case <-ctx.Done():
				return nil
			case c := <-cycles:
				if c.Status != status.StatusRunning {
					execLog.Debug("pass finished", "pass", c.Pass, "status", c.Status.String(), "ticked", c.Ticked)
				}
			}
		}
	})

	// ---- status mirror (optional) ----
	if cfg.Mirror != nil {
		w, closeMirror, err := mirror.Build(*cfg.Mirror)
		if err != nil {
			return fmt.Errorf("mirror build failed: %w", err)
		}
		defer closeMirror()

		mirrorLog := btlog.WithComponent(logger, "mirror")
		interval := time.Duration(cfg.Mirror.IntervalMs) * time.Millisecond
		g.Go(func() error {
			mirror.Run(ctx, w, srv, interval, mirrorLog)
			return nil
		})
	}

	// ---- metrics (optional) ----
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		hs := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	logger.Info("monitor running",
		"config", cfgPath,
		"port", cfg.Publisher.Port,
		"nodes", cfg.Tree.NodeCount(),
		"metrics", cfg.Metrics.Listen,
	)

	return g.Wait()
}
