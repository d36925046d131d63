package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pakfs/pakfs/configuration"
	"github.com/pakfs/pakfs/ident"
)

func newLsCommand() *cobra.Command {
	var (
		hostFiltering bool
		noHost        bool
		optionFilters []string
	)
	cmd := &cobra.Command{
		Use:   "ls [name[/version]]",
		Short: "list packages, versions or builds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := localRepository()
			ctx := cmd.Context()

			filters := ident.OptionMap{}
			for _, raw := range optionFilters {
				name, value, ok := strings.Cut(raw, "=")
				if !ok {
					return fmt.Errorf("invalid option filter %q, expected name=value", raw)
				}
				optName, err := ident.ParseOptName(name)
				if err != nil {
					return err
				}
				filters[optName] = value
			}
			// host-derived filters use optional equality: a build that
			// does not declare the option still matches
			optional := ident.OptionMap{}
			if hostFiltering && !noHost {
				for name, value := range ident.HostOptions() {
					if _, explicit := filters[name]; !explicit {
						optional[name] = value
					}
				}
			}

			if len(args) == 0 {
				names, err := repo.ListPackages(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			pkg, err := ident.ParseIdent(args[0])
			if err != nil {
				return err
			}
			if len(pkg.Version.Parts) == 0 {
				versions, err := repo.ListPackageVersions(ctx, pkg.Name)
				if err != nil {
					return err
				}
				for _, v := range versions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", pkg.Name, v)
				}
				return nil
			}
			builds, err := repo.ListPackageBuilds(ctx, pkg)
			if err != nil {
				return err
			}
			for _, build := range builds {
				if len(filters) > 0 || len(optional) > 0 {
					spec, err := repo.ReadPackage(ctx, build)
					if err != nil {
						continue
					}
					if !matchesFilters(spec, filters, optional) {
						continue
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), build)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hostFiltering, "host", configuration.Get().CLI.Ls.HostFiltering,
		"filter builds by this host's options")
	cmd.Flags().BoolVar(&noHost, "no-host", false, "disable host option filtering")
	cmd.Flags().StringArrayVar(&optionFilters, "opt", nil,
		"only list builds with this option value (name=value, repeatable)")
	return cmd
}

func matchesFilters(spec *ident.Spec, strict, optional ident.OptionMap) bool {
	values := spec.OptionValues()
	for name, wanted := range strict {
		value, ok := values.Get(name)
		if !ok || value != wanted {
			return false
		}
	}
	for name, wanted := range optional {
		if value, ok := values.Get(name); ok && value != "" && value != wanted {
			return false
		}
	}
	return true
}
