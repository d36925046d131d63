package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pakfs/pakfs/configuration"
	"github.com/pakfs/pakfs/solve"
	"github.com/pakfs/pakfs/storage"
	"github.com/pakfs/pakfs/storage/driver/filesystem"
	"github.com/pakfs/pakfs/version"
)

func newRootCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:     "pakfs",
		Short:   "package and environment manager over a content-addressed filesystem",
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			// an interrupt stops any running solve at its next step
			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-interrupts
				solve.Interrupt()
			}()
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newLsCommand(),
		newStatsCommand(),
		newDuCommand(),
		newEnvCommand(),
		newCleanCommand(),
		newTagsCommand(),
	)
	return cmd
}

// localRepository opens the repository configured for this host.
func localRepository() *storage.Repository {
	config := configuration.Get()
	return storage.NewRepository("local", filesystem.New(config.Storage.Root))
}
