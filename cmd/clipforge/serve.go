package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/clipforge/internal/artifact"
	"github.com/normanking/clipforge/internal/pipeline"
	"github.com/normanking/clipforge/internal/status"
	"github.com/normanking/clipforge/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the drop folder and process arrivals, streaming status over WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Close()

		store, err := artifact.NewStore(cfg.Pipeline.ArtifactDir)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
		collab, err := buildCollaborators(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var sink pipeline.Sink
		var statusSrv *status.Server
		if cfg.Status.Enabled {
			statusSrv = status.NewServer(cfg.Status.ListenAddr, cfg.Status.ReplaySize, logger.Zerolog())
			statusSrv.AttachLogger(logger)
			sink = statusSrv
		}

		orch := pipeline.NewOrchestrator(cfg, store, collab, sink, logger.Zerolog())
		watcher := watch.NewWatcher(cfg.Watch.Dir, cfg.Watch.SettleDelay, func(runCtx context.Context, path string) {
			if _, err := orch.Run(runCtx, path); err != nil {
				logger.Error("serve", "pipeline run failed", err, map[string]interface{}{"source": path})
			}
		}, logger.Zerolog())

		g, gctx := errgroup.WithContext(ctx)
		if statusSrv != nil {
			g.Go(func() error { return statusSrv.Start(gctx) })
		}
		g.Go(func() error { return watcher.Run(gctx) })

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
