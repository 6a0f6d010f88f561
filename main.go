// waypaperd: wallpaper daemon for Wayland compositors.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

// names used for the pidfile and the control socket under XDG_RUNTIME_DIR
const daemonName = "waypaperd"

func main() {
	root := &cobra.Command{
		Use:   "waypaperd",
		Short: "A wallpaper daemon for Wayland compositors",
		Long: `waypaperd renders a configured wallpaper on every output and keeps it
there across monitor hotplugs, scale and transform changes, and edits of the
wallpaper configuration file.

Per-output wallpapers live in wallpaper.toml, one [section] per output name
plus a mandatory [default] section. The file is re-read on SIGHUP, on file
changes, and on "waypaperd reload".

Config file search order (first found wins):
  path supplied via --config
  $XDG_CONFIG_HOME/waypaperd/waypaperd.toml

All flags can be set via WAYPAPERD_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newReloadCmd(),
		newStatusCmd(),
		newOutputsCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("waypaperd %s\n", Version)
		},
	}
}
