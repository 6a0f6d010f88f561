package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joshuarubin/go-sway"
	"github.com/spf13/cobra"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/logging"
	"github.com/waypaper/waypaperd/internal/socket"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running daemon to reload the wallpaper configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := socket.Invoke(daemonName, &socket.Request{Command: socket.CommandReload})
			if err != nil {
				return fmt.Errorf("socket.Invoke: %w", err)
			}
			if !resp.OK {
				return fmt.Errorf("reload failed: %s", resp.Error)
			}

			fmt.Println("configuration reloaded")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the surfaces of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := socket.Invoke(daemonName, &socket.Request{Command: socket.CommandStatus})
			if err != nil {
				return fmt.Errorf("socket.Invoke: %w", err)
			}
			if !resp.OK {
				return fmt.Errorf("status failed: %s", resp.Error)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OUTPUT\tSIZE\tSCALE\tCONFIGURED\tWALLPAPER\tMODE")
			for _, s := range resp.Surfaces {
				fmt.Fprintf(w, "%s\t%dx%d\t%d\t%t\t%s\t%s\n",
					s.Output, s.Width, s.Height, s.Scale, s.Configured, s.Wallpaper, s.Mode)
			}
			return w.Flush()
		},
	}
}

// newOutputsCmd lists outputs as the daemon would see them: identity and
// physical dimensions from the wayland protocol, merged with the richer
// metadata the sway IPC reports.
func newOutputsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "List outputs known to the compositor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := logging.Setup(logging.FormatAuto, logging.ParseLevel("warn"))

			outputs, err := compositor.Snapshot(logger)
			if err != nil {
				return fmt.Errorf("compositor.Snapshot: %w", err)
			}

			infos := swayInfos(ctx)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OUTPUT\tMODE\tSCALE\tTRANSFORM\tPHYSICAL")
			for _, out := range outputs {
				mode := fmt.Sprintf("%dx%d", out.Width, out.Height)
				scale := fmt.Sprintf("%d", out.Scale)
				if info, ok := infos[out.Name]; ok {
					// sway knows the fractional scale
					scale = fmt.Sprintf("%g", info.Scale)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dmm x %dmm\n",
					out.Name, mode, scale, out.Transform, out.PhysicalWidth, out.PhysicalHeight)
			}
			return w.Flush()
		},
	}
}

// swayInfos fetches output metadata over the sway IPC. Not running under
// sway is fine, the wayland data stands on its own.
func swayInfos(ctx context.Context) map[string]*compositor.Info {
	client, err := sway.New(ctx)
	if err != nil {
		return nil
	}

	infos, err := compositor.NewInfoCache(client).All(ctx)
	if err != nil {
		return nil
	}

	lookup := make(map[string]*compositor.Info, len(infos))
	for _, info := range infos {
		lookup[info.Name] = info
	}
	return lookup
}
