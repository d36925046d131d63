package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTagsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "list the named tags of the local repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := localRepository()
			tags, err := repo.ListTags(cmd.Context())
			if err != nil {
				return err
			}
			for _, tag := range tags {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", tag.Name, tag.Target)
			}
			return nil
		},
	}
}
