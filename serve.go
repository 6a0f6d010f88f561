package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/core"
	"github.com/waypaper/waypaperd/internal/daemon"
	"github.com/waypaper/waypaperd/internal/render"
	"github.com/waypaper/waypaperd/internal/socket"
	"github.com/waypaper/waypaperd/internal/wallpaper"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the wallpaper daemon",
		Long: `Starts waypaperd in the foreground. Run it from your compositor config or
a service manager, the daemon does not detach on its own.

The wallpaper configuration is re-read on SIGHUP, when the file changes on
disk, and on "waypaperd reload".`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.StringP("wallpaper-config", "w", "", "path to the per-output wallpaper config (default: wallpaper.toml in the config dir)")
	f.Bool("use-scaled-window", false, "keep buffers at scale 1 and let the compositor scale them")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

// controlRequest carries one control-socket command into the control loop.
type controlRequest struct {
	req  *socket.Request
	resp chan *socket.Response
}

func runServe(v *viper.Viper) error {
	logger := setupLogging(v)

	err := core.LockPidFile(daemonName)
	if err != nil {
		if errors.Is(err, core.ErrProcessAlreadyRunning) {
			logger.Info("daemon already running")
			return nil
		}
		return fmt.Errorf("core.LockPidFile: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := wallpaperConfigPath(v)
	store, err := wallpaper.Load(configPath)
	if err != nil {
		return fmt.Errorf("wallpaper.Load: %w", err)
	}
	logger.Info("wallpaper configuration loaded", "path", configPath)

	source, err := compositor.Connect(logger)
	if err != nil {
		return fmt.Errorf("compositor.Connect: %w", err)
	}
	defer source.Close()

	engine := daemon.NewEngine(logger, store, source, render.NewBufferRenderer(), v.GetBool("use-scaled-window"))

	reload := make(chan struct{}, 1)
	control := make(chan controlRequest)

	go watchSignals(ctx, reload)
	go func() {
		err := watchConfigFile(ctx, logger, configPath, reload)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("config file watcher stopped", "error", err)
		}
	}()
	go func() {
		err := serveControlSocket(ctx, logger, control)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("control socket stopped", "error", err)
		}
	}()

	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- source.Run(ctx)
	}()

	logger.Info("waypaperd running", "version", Version)

	return controlLoop(ctx, logger, engine, source, reload, control, dispatchErr)
}

// controlLoop is the single goroutine mutating engine state. Compositor
// events, reload triggers and control commands are all serialized here.
func controlLoop(
	ctx context.Context,
	logger *slog.Logger,
	engine *daemon.Engine,
	source *compositor.Source,
	reload <-chan struct{},
	control <-chan controlRequest,
	dispatchErr <-chan error,
) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil

		case err := <-dispatchErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("source.Run: %w", err)

		case ev := <-source.Events():
			if err := engine.Handle(ev); err != nil {
				logger.Error("handling compositor event", "error", err)
			}

		case <-reload:
			if err := engine.ReloadConfig(); err != nil {
				logger.Error("reloading configuration", "error", err)
			}

		case creq := <-control:
			creq.resp <- handleControl(engine, creq.req)
		}
	}
}

func handleControl(engine *daemon.Engine, req *socket.Request) *socket.Response {
	switch req.Command {
	case socket.CommandReload:
		if err := engine.ReloadConfig(); err != nil {
			return &socket.Response{Error: err.Error()}
		}
		return &socket.Response{OK: true}

	case socket.CommandStatus:
		surfaces := engine.Surfaces()
		statuses := make([]socket.SurfaceStatus, 0, len(surfaces))
		for _, s := range surfaces {
			w, h := s.Dimensions()
			statuses = append(statuses, socket.SurfaceStatus{
				Output:     s.Name(),
				Width:      w,
				Height:     h,
				Scale:      s.Scale(),
				Configured: s.Configured(),
				Wallpaper:  s.Settings().Path,
				Mode:       string(s.Settings().Mode),
			})
		}
		return &socket.Response{OK: true, Surfaces: statuses}
	}

	return &socket.Response{Error: fmt.Sprintf("unknown command: %q", req.Command)}
}

// watchSignals turns SIGHUP into reload requests.
func watchSignals(ctx context.Context, reload chan<- struct{}) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			requestReload(reload)
		}
	}
}

// watchConfigFile requests a reload whenever the wallpaper config changes on
// disk. The parent directory is watched because editors replace files
// instead of writing them in place.
func watchConfigFile(ctx context.Context, logger *slog.Logger, path string, reload chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watcher.Add: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("wallpaper configuration changed on disk")
			requestReload(reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watching config file", "error", err)
		}
	}
}

// requestReload coalesces pending reload triggers.
func requestReload(reload chan<- struct{}) {
	select {
	case reload <- struct{}{}:
	default:
	}
}

func serveControlSocket(ctx context.Context, logger *slog.Logger, control chan<- controlRequest) error {
	if err := socket.Clear(daemonName); err != nil {
		return fmt.Errorf("socket.Clear: %w", err)
	}

	srv, err := socket.NewServer(logger, daemonName, func(ctx context.Context, req *socket.Request) *socket.Response {
		creq := controlRequest{req: req, resp: make(chan *socket.Response, 1)}

		select {
		case control <- creq:
		case <-ctx.Done():
			return &socket.Response{Error: "daemon shutting down"}
		}

		select {
		case resp := <-creq.resp:
			return resp
		case <-ctx.Done():
			return &socket.Response{Error: "daemon shutting down"}
		}
	})
	if err != nil {
		return fmt.Errorf("socket.NewServer: %w", err)
	}
	defer srv.Close()

	return srv.Serve(ctx)
}
