package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normanking/clipforge/internal/artifact"
	"github.com/normanking/clipforge/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <source-file>",
	Short: "Run the full pipeline on one source recording",
	Args:  cobra.ExactArgs(1),
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

		orch := pipeline.NewOrchestrator(cfg, store, collab, nil, logger.Zerolog())
		run, err := orch.Run(ctx, args[0])
		if err != nil {
			if run != nil {
				fmt.Fprintf(os.Stderr, "run %s failed at %s: %s\n", run.ID, run.Stage, run.Error)
			}
			return err
		}

		fmt.Printf("run %s completed (%s)\n", run.ID, run.Strategy)
		for _, a := range run.Artifacts {
			fmt.Printf("  %-10s %s\n", a.Stage, a.Path)
		}
		return nil
	},
}
