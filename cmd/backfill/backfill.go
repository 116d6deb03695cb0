package backfill

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracklist/tracklist/cmd/output"
	"github.com/tracklist/tracklist/internal/app"
	"github.com/tracklist/tracklist/internal/batch"
	"github.com/tracklist/tracklist/internal/buildinfo"
	"github.com/tracklist/tracklist/internal/conf"
)

// maxErrorRows caps the per-album error table.
const maxErrorRows = 20

// Command caches artwork for every album with a known cover URL.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		force       bool
		missingOnly bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Cache artwork for all albums",
		Long: "Download and transcode artwork for every album. Albums already cached are skipped " +
			"unless --force is set. --missing-only regenerates missing variants of cached albums instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if force && missingOnly {
				return fmt.Errorf("--force and --missing-only are mutually exclusive")
			}

			s := *settings
			s.WebServer.Enabled = false
			a, err := app.New(&s, app.WithBuildInfo(build))
			if err != nil {
				return err
			}
			defer a.Close()

			var rep *batch.Report
			if missingOnly {
				rep, err = a.Batch.ProcessMissingVariants(cmd.Context())
			} else {
				rep, err = a.Batch.ProcessAll(cmd.Context(), force)
			}
			if err != nil {
				return err
			}
			return output.Print(cmd.OutOrStdout(), asJSON, rep, render(rep)...)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-cache albums that are already cached")
	cmd.Flags().BoolVar(&missingOnly, "missing-only", false, "Only regenerate missing variants of cached albums")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func render(rep *batch.Report) []string {
	tables := []string{output.KeyValue([][2]string{
		{"Run", rep.RunID},
		{"Operation", rep.Operation},
		{"Albums", strconv.Itoa(rep.Total)},
		{"Cached", strconv.Itoa(rep.Successful)},
		{"Regenerated", strconv.Itoa(rep.Regenerated)},
		{"Skipped", strconv.Itoa(rep.Skipped)},
		{"Failed", strconv.Itoa(rep.Failed)},
		{"Retried", strconv.Itoa(rep.Retried)},
		{"Success rate", fmt.Sprintf("%.1f%%", rep.SuccessRate())},
		{"Duration", rep.Duration.Round(time.Millisecond).String()},
	})}

	if len(rep.Errors) > 0 {
		rows := make([][]string, 0, min(len(rep.Errors), maxErrorRows))
		for _, e := range rep.Errors[:min(len(rep.Errors), maxErrorRows)] {
			rows = append(rows, errorRow(e))
		}
		tables = append(tables, output.Table([]string{"Album", "Attempts", "Error"}, rows,
			[]output.Alignment{output.AlignRight, output.AlignRight, output.AlignLeft}))
	}
	return tables
}

func errorRow(e batch.AlbumError) []string {
	msg := e.Error
	if e.Panic {
		msg = "panic: " + msg
	}
	return []string{strconv.FormatInt(e.AlbumID, 10), strconv.Itoa(e.Attempts), msg}
}
