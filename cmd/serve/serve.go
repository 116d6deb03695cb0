package serve

import (
	"github.com/spf13/cobra"

	"github.com/tracklist/tracklist/internal/app"
	"github.com/tracklist/tracklist/internal/buildinfo"
	"github.com/tracklist/tracklist/internal/conf"
)

// Command runs the HTTP API and the maintenance scheduler until interrupted.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the artwork API and run scheduled maintenance",
		Long:  "Start the HTTP API and the maintenance scheduler and run until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				settings.WebServer.Enabled = true
				settings.WebServer.Listen = listen
			}
			a, err := app.New(settings, app.WithBuildInfo(build))
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides webserver.listen")
	return cmd
}
