package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pakfs/pakfs/graph"
	"github.com/pakfs/pakfs/ident"
)

func identFor(name ident.PkgName, version ident.Version) ident.Ident {
	return ident.NewIdent(name, version)
}

func newDuCommand() *cobra.Command {
	var humanReadable bool
	cmd := &cobra.Command{
		Use:   "du <ref>",
		Short: "show disk usage of a tagged environment by path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := localRepository()
			ctx := cmd.Context()

			obj, err := repo.ReadRef(ctx, args[0])
			if err != nil {
				return err
			}
			dgst, err := graph.DigestOf(obj)
			if err != nil {
				return err
			}
			manifest, err := graph.UnrollRef(ctx, repo, dgst)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var total int64
			manifest.Walk(func(path string, entry *graph.Entry) {
				if entry.IsDir() || path == "" {
					return
				}
				total += entry.Size
				fmt.Fprintf(out, "%s\t/%s\n", renderSize(entry.Size, humanReadable), path)
			})
			fmt.Fprintf(out, "%s\ttotal\n", renderSize(total, humanReadable))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&humanReadable, "human-readable", "H", false, "print sizes in powers of 1024")
	return cmd
}

func renderSize(size int64, humanReadable bool) string {
	if !humanReadable {
		return fmt.Sprintf("%d", size)
	}
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
