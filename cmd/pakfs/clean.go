package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pakfs/pakfs/storage"
)

func newCleanCommand() *cobra.Command {
	var (
		dryRun  bool
		workers int
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "remove objects that no tag or staging entry keeps alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := localRepository()
			stats, err := storage.Clean(cmd.Context(), repo.Store, storage.CleanOpts{
				DryRun:         dryRun,
				MaxConcurrency: workers,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "would remove %d of %d objects\n", stats.Candidates, stats.ObjectsScanned)
				return nil
			}
			fmt.Fprintf(out, "removed %d objects and %d payloads (%d bytes) in %v\n",
				stats.ObjectsRemoved, stats.PayloadsRemoved, stats.PayloadBytesFreed, stats.TotalDuration)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")
	cmd.Flags().IntVar(&workers, "workers", 4, "maximum concurrent deletions")
	return cmd
}
