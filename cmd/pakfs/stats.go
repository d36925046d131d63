package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "show aggregate counts for the local repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := localRepository()
			ctx := cmd.Context()

			names, err := repo.ListPackages(ctx)
			if err != nil {
				return err
			}
			var versionCount, buildCount, deprecatedCount int
			for _, name := range names {
				versions, err := repo.ListPackageVersions(ctx, name)
				if err != nil {
					continue
				}
				versionCount += len(versions)
				for _, version := range versions {
					builds, err := repo.ListPackageBuilds(ctx, identFor(name, version))
					if err != nil {
						continue
					}
					buildCount += len(builds)
					for _, build := range builds {
						spec, err := repo.ReadPackage(ctx, build)
						if err != nil {
							continue
						}
						if spec.Deprecated {
							deprecatedCount++
						}
					}
				}
			}
			objects, err := repo.ListObjects(ctx)
			if err != nil {
				return err
			}
			tags, err := repo.ListTags(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repository: %s\n", repo.Name())
			fmt.Fprintf(out, "  packages:   %d\n", len(names))
			fmt.Fprintf(out, "  versions:   %d\n", versionCount)
			fmt.Fprintf(out, "  builds:     %d (%d deprecated)\n", buildCount, deprecatedCount)
			fmt.Fprintf(out, "  objects:    %d\n", len(objects))
			fmt.Fprintf(out, "  tags:       %d\n", len(tags))
			return nil
		},
	}
}
