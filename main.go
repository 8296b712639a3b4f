// Command stationboard serves a live registry of which vehicles are at which station.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/benjaminclauss/stationboard/api"
	"github.com/benjaminclauss/stationboard/broadcast"
	"github.com/benjaminclauss/stationboard/config"
	"github.com/benjaminclauss/stationboard/metrics"
	"github.com/benjaminclauss/stationboard/registry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const appName = "stationboard"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds command-line overrides. Empty values leave the loaded configuration alone.
type flags struct {
	configPath string
	logLevel   string
	addr       string
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Live vehicle registry for a set of stations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and WebSocket updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	serve.Flags().StringVar(&f.addr, "addr", "", "Listen address (overrides http.addr)")

	cmd.AddCommand(serve,
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), buildInfo())
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration as YAML",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(f)
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("marshal config: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
	)
	return cmd
}

func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.addr != "" {
		cfg.HTTP.Addr = f.addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}
	slog.Info("starting", "app", appName, "version", Version, "commit", Commit)

	m := metrics.New()
	hub := broadcast.NewHub(broadcast.HubOptions{
		Buffer:    cfg.Broadcast.Buffer,
		Heartbeat: cfg.Broadcast.Heartbeat,
		Metrics:   m,
	})
	publishers := broadcast.Multi{m, hub}

	if cfg.NATS.URL != "" {
		nc, err := broadcast.ConnectNATS(cfg.NATS.URL, appName)
		if err != nil {
			return err
		}
		defer nc.Close()
		publishers = append(publishers, broadcast.NewNATSPublisher(nc, cfg.NATS.Subject, m))
		slog.Info("publishing snapshots to nats", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}

	opts := cfg.RegistryOptions()
	opts.Publisher = publishers
	reg, err := registry.New(opts)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	// Subscribers that connect before the first mutation still get the station layout.
	publishers.Publish(reg.ListStations())

	srv, err := api.NewServer(cfg.HTTP, api.NewHandler(api.Options{
		Board:         reg,
		Subscriptions: hub.Handler(),
		Metrics:       m,
		Version:       Version,
	}))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		hub.Close()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("stopped")
	return nil
}
