package audit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracklist/tracklist/cmd/output"
	"github.com/tracklist/tracklist/internal/app"
	"github.com/tracklist/tracklist/internal/buildinfo"
	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/integrity"
)

// Command verifies the cache against the ledger.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		repair   bool
		quick    bool
		fixFlags bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify cached artwork against the ledger",
		Long: "Run a full integrity audit. --repair fixes what it finds, --quick samples file " +
			"existence only and --fix-flags reconciles album cached flags with stored artwork.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if quick && (repair || fixFlags) {
				return fmt.Errorf("--quick cannot be combined with --repair or --fix-flags")
			}

			s := *settings
			s.WebServer.Enabled = false
			s.Integrity.Enabled = true
			a, err := app.New(&s, app.WithBuildInfo(build))
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case quick:
				rep, err := a.Auditor.QuickCheck(ctx)
				if err != nil {
					return err
				}
				return output.Print(out, asJSON, rep, renderQuick(rep))
			case fixFlags:
				rep, err := a.Auditor.ValidateCacheFlags(ctx, true)
				if err != nil {
					return err
				}
				return output.Print(out, asJSON, rep, renderFlags(rep))
			default:
				rep, err := a.Auditor.Verify(ctx, repair)
				if err != nil {
					return err
				}
				return output.Print(out, asJSON, rep, renderReport(rep))
			}
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Repair the issues found")
	cmd.Flags().BoolVar(&quick, "quick", false, "Sample file existence instead of a full audit")
	cmd.Flags().BoolVar(&fixFlags, "fix-flags", false, "Reconcile album cached flags with stored artwork")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func renderReport(rep *integrity.Report) string {
	pairs := [][2]string{
		{"Audit", rep.ID},
		{"Integrity score", fmt.Sprintf("%.1f", rep.Score)},
		{"Records", strconv.Itoa(rep.Summary.TotalRecords)},
		{"Valid files", strconv.Itoa(rep.Summary.ValidFiles)},
		{"Missing files", strconv.Itoa(rep.Issues.MissingFiles)},
		{"Size mismatches", strconv.Itoa(rep.Issues.SizeMismatches)},
		{"Corrupted files", strconv.Itoa(rep.Issues.CorruptedFiles)},
		{"Orphaned files", strconv.Itoa(rep.Issues.OrphanedFiles)},
		{"Missing variants", strconv.Itoa(rep.Issues.MissingVariants)},
	}
	if rep.Repair {
		pairs = append(pairs,
			[2]string{"Repairs completed", strconv.Itoa(rep.Summary.RepairsCompleted)},
			[2]string{"Repairs failed", strconv.Itoa(rep.Summary.RepairsFailed)})
	}
	pairs = append(pairs, [2]string{"Duration", rep.Duration.Round(time.Millisecond).String()})
	if rep.Path != "" {
		pairs = append(pairs, [2]string{"Report", rep.Path})
	}
	return output.KeyValue(pairs)
}

func renderQuick(rep *integrity.QuickReport) string {
	return output.KeyValue([][2]string{
		{"Records", strconv.FormatInt(rep.TotalRecords, 10)},
		{"Sampled", strconv.Itoa(rep.SampleSize)},
		{"Sample valid", strconv.Itoa(rep.SampleValid)},
		{"Sample missing", strconv.Itoa(rep.SampleMissing)},
		{"Estimated missing", strconv.FormatInt(rep.EstimatedMissing, 10)},
		{"Estimated score", fmt.Sprintf("%.1f", rep.EstimatedScore)},
	})
}

func renderFlags(rep *integrity.FlagReport) string {
	return output.KeyValue([][2]string{
		{"Albums", strconv.Itoa(rep.TotalAlbums)},
		{"Correctly marked", strconv.Itoa(rep.CorrectlyMarked)},
		{"Wrongly cached", strconv.Itoa(len(rep.IncorrectlyCached))},
		{"Wrongly uncached", strconv.Itoa(len(rep.IncorrectlyUncached))},
		{"Fixed", strconv.Itoa(rep.Fixed)},
		{"Errors", strconv.Itoa(rep.Errors)},
	})
}
