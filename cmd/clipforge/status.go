package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/normanking/clipforge/internal/artifact"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "List runs, or the committed artifacts of one run",
	Args:  cobra.MaximumNArgs(1),
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

		if len(args) == 0 {
			entries, err := os.ReadDir(store.BaseDir())
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.IsDir() {
					fmt.Println(e.Name())
				}
			}
			return nil
		}

		arts, err := store.List(args[0])
		if err != nil {
			return err
		}
		if len(arts) == 0 {
			fmt.Println("no committed artifacts")
			return nil
		}
		for _, a := range arts {
			fmt.Printf("%-10s %s  %s  %s\n", a.Stage, a.CreatedAt.Format("2006-01-02 15:04:05"), a.ContentHash[:12], a.Path)
		}
		return nil
	},
}
