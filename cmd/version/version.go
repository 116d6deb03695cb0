package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracklist/tracklist/internal/buildinfo"
)

// Command prints build metadata.
func Command(build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "tracklist %s (built %s)\n",
				build.GetVersion(), build.GetBuildDate())
			return err
		},
	}
}
