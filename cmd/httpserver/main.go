package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/social-image/cmd/flags"
	"github.com/ruteri/social-image/common"
	"github.com/ruteri/social-image/config"
	"github.com/ruteri/social-image/httpserver"
	"github.com/ruteri/social-image/metrics"
	"github.com/ruteri/social-image/render"
	"github.com/ruteri/social-image/storage"
	"github.com/urfave/cli/v2"
)

var flagsList []cli.Flag = append([]cli.Flag{
	flags.ConfigFileFlag,
	&cli.StringFlag{
		Name:  "listen-addr",
		Usage: "address to listen on for API (default 127.0.0.1:8080)",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address to listen on for Prometheus metrics, empty to disable (default 127.0.0.1:8090)",
	},
	&cli.StringFlag{
		Name:  "store",
		Usage: "root directory of the render cache (default /tmp/data)",
	},
	&cli.StringFlag{
		Name:  "workspace-dir",
		Usage: "directory for render workspaces (default <store>/.workspaces)",
	},
	&cli.StringFlag{
		Name:  "api-key",
		Usage: "shared key required in X-API-KEY by mutating routes",
	},
	&cli.Int64Flag{
		Name:  "expire-png-secs",
		Usage: "evict cached renders older than this (default 259200)",
	},
	&cli.Int64Flag{
		Name:  "sweep-interval-secs",
		Usage: "seconds between eviction sweeps (default 720)",
	},
	&cli.Int64Flag{
		Name:  "render-timeout-secs",
		Usage: "deadline of a single render (default 30)",
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "social-image",
		Usage: "Serve SVG documents as cached PNG renders",
		Flags: flagsList,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := config.Load(cCtx.String(flags.ConfigFileFlag.Name))
			if err != nil {
				logger.Error("Failed to load config", "err", err)
				return err
			}
			applyFlags(cCtx, cfg)
			if err := cfg.Validate(); err != nil {
				logger.Error("Invalid config", "err", err)
				return err
			}
			if cfg.Key == config.Default().Key {
				logger.Warn("Using the default API key, set APP_KEY or --api-key")
			}

			m := metrics.New(common.PackageName)

			pipeline := render.NewPipeline(cfg.Workspaces(), render.NewOksvgRasterizer(), logger).
				WithDefaultCanvas(cfg.DefaultCanvas()).
				WithMetrics(m)

			store, err := storage.NewFileStore(cfg.Store, pipeline, logger)
			if err != nil {
				logger.Error("Failed to open store", "err", err, "store", cfg.Store)
				return err
			}
			store.WithMetrics(m).WithRenderTimeout(cfg.RenderTimeout())

			sweeper := storage.NewSweeper(store.Root(), cfg.ExpirePNG(), cfg.SweepInterval(), logger).
				WithWorkspaceDir(cfg.Workspaces()).
				WithMetrics(m)

			handler := httpserver.NewHandler(store, pipeline, cfg.Key, logger).
				WithMaxUploadBytes(cfg.MaxUploadBytes)

			serverCfg := flags.ConfigureServer(cCtx, logger, cfg.ListenAddr, cfg.MetricsAddr, cfg.RenderTimeout())
			server, err := httpserver.New(serverCfg, handler, m)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			logger.Info("Starting server", "store", store.Root(), "workspaces", cfg.Workspaces())
			sweeper.Start(ctx)
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			cancel()
			sweeper.Stop()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// applyFlags overrides config values with flags given on the command line.
func applyFlags(cCtx *cli.Context, cfg *config.AppConfig) {
	if cCtx.IsSet("listen-addr") {
		cfg.ListenAddr = cCtx.String("listen-addr")
	}
	if cCtx.IsSet("metrics-addr") {
		cfg.MetricsAddr = cCtx.String("metrics-addr")
	}
	if cCtx.IsSet("store") {
		cfg.Store = cCtx.String("store")
	}
	if cCtx.IsSet("workspace-dir") {
		cfg.WorkspaceDir = cCtx.String("workspace-dir")
	}
	if cCtx.IsSet("api-key") {
		cfg.Key = cCtx.String("api-key")
	}
	if cCtx.IsSet("expire-png-secs") {
		cfg.ExpirePNGSecs = cCtx.Int64("expire-png-secs")
	}
	if cCtx.IsSet("sweep-interval-secs") {
		cfg.SweepIntervalSecs = cCtx.Int64("sweep-interval-secs")
	}
	if cCtx.IsSet("render-timeout-secs") {
		cfg.RenderTimeoutSecs = cCtx.Int64("render-timeout-secs")
	}
}
