package main

import (
	"os"

	"github.com/tracklist/tracklist/cmd"
	"github.com/tracklist/tracklist/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	root := cmd.RootCommand(buildinfo.NewContext(version, buildDate))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
