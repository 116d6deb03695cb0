package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracklist/tracklist/cmd/audit"
	"github.com/tracklist/tracklist/cmd/backfill"
	"github.com/tracklist/tracklist/cmd/cleanup"
	"github.com/tracklist/tracklist/cmd/serve"
	"github.com/tracklist/tracklist/cmd/stats"
	"github.com/tracklist/tracklist/cmd/version"
	"github.com/tracklist/tracklist/internal/app"
	"github.com/tracklist/tracklist/internal/buildinfo"
	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configFile string
		debug      bool
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "tracklist",
		Short:         "Tracklist album artwork cache",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	versionCmd := version.Command(build)
	rootCmd.AddCommand(
		serve.Command(settings, build),
		backfill.Command(settings, build),
		audit.Command(settings, build),
		cleanup.Command(settings, build),
		stats.Command(settings, build),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Version needs neither config nor logging
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("debug") {
			loaded.Debug = debug
		}
		*settings = *loaded

		if central, err = app.SetupLogging(settings); err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		return nil
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}
