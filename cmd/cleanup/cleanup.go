package cleanup

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracklist/tracklist/cmd/output"
	"github.com/tracklist/tracklist/internal/app"
	"github.com/tracklist/tracklist/internal/buildinfo"
	cachecleanup "github.com/tracklist/tracklist/internal/cleanup"
	"github.com/tracklist/tracklist/internal/conf"
)

// Command runs one retention cleanup pass.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		dryRun bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale, invalid and orphaned artwork",
		Long: "Run one cleanup pass: invalid records, expired artwork, size based eviction " +
			"and orphaned files. --dry-run reports what would be removed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *settings
			s.WebServer.Enabled = false
			s.Cleanup.Enabled = true
			if cmd.Flags().Changed("dry-run") {
				s.Cleanup.DryRun = dryRun
			}
			a, err := app.New(&s, app.WithBuildInfo(build))
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Cleaner.Run(cmd.Context())
			if err != nil {
				return err
			}
			return output.Print(cmd.OutOrStdout(), asJSON, res, render(res))
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be removed without deleting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func render(res *cachecleanup.Result) string {
	return output.KeyValue([][2]string{
		{"Run", res.RunID},
		{"Dry run", strconv.FormatBool(res.DryRun)},
		{"Records scanned", strconv.Itoa(res.RecordsScanned)},
		{"Invalid records", strconv.Itoa(res.InvalidRecords)},
		{"Expired", strconv.Itoa(res.Expired)},
		{"Evicted", strconv.Itoa(res.Evicted)},
		{"Orphaned files", strconv.Itoa(res.OrphanedFiles)},
		{"Records deleted", strconv.Itoa(res.RecordsDeleted)},
		{"Files deleted", strconv.Itoa(res.FilesDeleted)},
		{"Space freed", output.Bytes(res.BytesFreed)},
		{"Flags cleared", strconv.FormatInt(res.FlagsCleared, 10)},
		{"Errors", strconv.Itoa(len(res.Errors))},
		{"Duration", res.Duration.Round(time.Millisecond).String()},
	})
}
