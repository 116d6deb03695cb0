package stats

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tracklist/tracklist/cmd/output"
	"github.com/tracklist/tracklist/internal/app"
	"github.com/tracklist/tracklist/internal/artcache"
	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/buildinfo"
	"github.com/tracklist/tracklist/internal/conf"
)

// Command prints cache statistics.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show artwork cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *settings
			s.WebServer.Enabled = false
			a, err := app.New(&s, app.WithBuildInfo(build))
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Artwork.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return output.Print(cmd.OutOrStdout(), asJSON, st, render(st)...)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	return cmd
}

func render(st *artcache.Statistics) []string {
	summary := [][2]string{
		{"Albums", strconv.FormatInt(st.Ledger.TotalAlbums, 10)},
		{"Cached albums", strconv.FormatInt(st.Ledger.CachedAlbums, 10)},
		{"Coverage", fmt.Sprintf("%.1f%%", st.Coverage)},
		{"Ledger rows", strconv.FormatInt(st.Ledger.TotalRows, 10)},
		{"Placeholders", strconv.FormatInt(st.Ledger.Placeholders, 10)},
		{"Files", strconv.Itoa(st.Filesystem.TotalFiles)},
		{"Size on disk", output.Bytes(st.Filesystem.TotalBytes)},
		{"Hot cache", fmt.Sprintf("%d/%d (%.1f%% hits)", st.HotCache.Entries, st.HotCache.Capacity, st.HotCache.HitRate*100)},
	}
	if st.Disk != nil {
		summary = append(summary, [2]string{"Disk used", fmt.Sprintf("%.1f%%", st.Disk.UsedPercent)})
	}

	variants := make([][]string, 0, len(artwork.Variants()))
	for _, v := range artwork.Variants() {
		fs := st.Filesystem.Variants[v]
		rows := st.Ledger.ByVariant[v]
		variants = append(variants, []string{
			v.String(),
			strconv.FormatInt(rows.Rows, 10),
			strconv.Itoa(fs.Files),
			output.Bytes(fs.Bytes),
		})
	}

	tables := []string{
		output.KeyValue(summary),
		output.Table([]string{"Variant", "Rows", "Files", "Size"}, variants,
			[]output.Alignment{output.AlignLeft, output.AlignRight, output.AlignRight, output.AlignRight}),
	}

	if len(st.MostAccessed) > 0 {
		rows := make([][]string, 0, len(st.MostAccessed))
		for _, e := range st.MostAccessed {
			rows = append(rows, []string{strconv.FormatInt(e.AlbumID, 10), e.Variant.String(), strconv.FormatInt(e.AccessCount, 10)})
		}
		tables = append(tables, output.Table([]string{"Album", "Variant", "Accesses"}, rows,
			[]output.Alignment{output.AlignRight, output.AlignLeft, output.AlignRight}))
	}
	return tables
}
