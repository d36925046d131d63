package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pakfs/pakfs/ident"
	"github.com/pakfs/pakfs/solve"
)

func newEnvCommand() *cobra.Command {
	var binaryOnly bool
	cmd := &cobra.Command{
		Use:   "env <request>...",
		Short: "resolve an environment for the given package requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			solver := solve.NewSolver()
			solver.AddRepository(localRepository())
			solver.SetBinaryOnly(binaryOnly)
			for _, arg := range args {
				request, err := ident.ParsePkgRequest(arg)
				if err != nil {
					return err
				}
				solver.AddRequest(ident.Request{Pkg: request})
			}

			solution, err := solver.Solve(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range solution.Items() {
				fmt.Fprintf(out, "%s  (%s)\n", item.Spec.Pkg, item.Source)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&binaryOnly, "binary-only", true, "never build packages from source")
	return cmd
}
