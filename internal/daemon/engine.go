// Package daemon implements the reconciliation core: it keeps the set of
// live surfaces synchronized with the outputs the compositor reports and
// with the wallpaper configuration.
package daemon

import (
	"fmt"
	"log/slog"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/render"
	"github.com/waypaper/waypaperd/internal/wallpaper"
)

// Engine translates compositor events and reload triggers into registry
// mutations and surface transitions. All event methods run on a single
// control goroutine, handlers complete before the next event is processed.
type Engine struct {
	log      *slog.Logger
	store    *wallpaper.Store
	client   compositor.Client
	renderer render.Renderer

	registry Registry

	// outputs whose surface creation failed; they are still live, so later
	// events for them must not panic and instead retry the creation
	pending map[compositor.OutputID]compositor.Output

	// pin the buffer scale to 1 and let the compositor scale the buffer
	useScaledWindow bool
}

func NewEngine(logger *slog.Logger, store *wallpaper.Store, client compositor.Client, renderer render.Renderer, useScaledWindow bool) *Engine {
	return &Engine{
		log:             logger,
		store:           store,
		client:          client,
		renderer:        renderer,
		pending:         make(map[compositor.OutputID]compositor.Output),
		useScaledWindow: useScaledWindow,
	}
}

// Handle dispatches one compositor event to the matching handler. Errors
// are recoverable, the daemon logs them and keeps running.
func (e *Engine) Handle(ev compositor.Event) error {
	switch ev := ev.(type) {
	case compositor.OutputAppeared:
		return e.OutputAppeared(ev.Output)
	case compositor.OutputChanged:
		e.OutputChanged(ev.Output)
		return nil
	case compositor.OutputDisappeared:
		e.OutputDisappeared(ev.ID)
		return nil
	case compositor.ScaleChanged:
		return e.ScaleChanged(ev.ID, ev.Factor)
	case compositor.TransformChanged:
		return e.TransformChanged(ev.ID, ev.Transform)
	case compositor.LayerConfigured:
		return e.Configure(ev.Layer, ev.Width, ev.Height)
	}

	return fmt.Errorf("unhandled event type: %T", ev)
}

// OutputAppeared creates the background layer and render target for a new
// output and inserts the resulting surface into the registry.
func (e *Engine) OutputAppeared(out compositor.Output) error {
	scale := out.Scale
	if e.useScaledWindow {
		scale = 1
	}

	layer, err := e.client.CreateLayerSurface(out, compositor.LayerOptions{
		Namespace:     "waypaperd-" + out.Name,
		Anchor:        compositor.AnchorFull,
		ExclusiveZone: compositor.ExclusiveZoneNone,
		// (0, 0) lets the compositor decide the size
		Width:  0,
		Height: 0,
		// with no input region of our own the compositor renders its
		// default cursor instead of none
		EmptyInputRegion: true,
	})
	if err != nil {
		e.pending[out.ID] = out
		return fmt.Errorf("e.client.CreateLayerSurface: %w", err)
	}

	target, err := e.renderer.Bind(layer)
	if err != nil {
		if derr := e.client.DestroyLayerSurface(layer); derr != nil {
			e.log.Error("destroying layer after failed bind", "error", derr)
		}
		e.pending[out.ID] = out
		return fmt.Errorf("e.renderer.Bind: %w", err)
	}

	e.renderer.SetScale(target, scale)

	s := newSurface(e.store, e.renderer, out, layer, target, scale)
	e.registry.Insert(s)
	delete(e.pending, out.ID)

	e.log.Info("output appeared",
		"output", out.Name,
		"scale", scale,
		"wallpaper", s.Settings().Path)

	return nil
}

// OutputChanged is an extension point for metadata-only updates (e.g. a
// renamed output). Nothing to reconcile right now.
func (e *Engine) OutputChanged(out compositor.Output) {
	e.log.Debug("output changed", "output", out.Name)
}

// OutputDisappeared removes the matching surface and releases its
// resources. An output whose surface never got created just leaves the
// pending set. The compositor guarantees the output was announced before,
// anything else is a bug.
func (e *Engine) OutputDisappeared(id compositor.OutputID) {
	if out, ok := e.pending[id]; ok {
		delete(e.pending, id)
		e.log.Info("output disappeared before its surface existed", "output", out.Name)
		return
	}

	s, ok := e.registry.RemoveByOutput(id)
	if !ok {
		panic(fmt.Sprintf("daemon: removing surface for unknown output %d", id))
	}

	s.release()
	if err := e.client.DestroyLayerSurface(s.layer); err != nil {
		e.log.Error("destroying layer surface", "output", s.Name(), "error", err)
	}

	e.log.Info("output disappeared", "output", s.Name())
}

// ScaleChanged delegates a scale-factor change to the owning surface.
func (e *Engine) ScaleChanged(id compositor.OutputID, factor int32) error {
	if out, ok := e.pending[id]; ok {
		out.Scale = factor
		return e.retryAppear(out)
	}

	s := e.mustByOutput(id)

	if err := s.setScale(factor); err != nil {
		return fmt.Errorf("surface %q: %w", s.Name(), err)
	}
	return nil
}

// TransformChanged delegates a transform change to the owning surface.
func (e *Engine) TransformChanged(id compositor.OutputID, tr compositor.Transform) error {
	if out, ok := e.pending[id]; ok {
		out.Transform = tr
		return e.retryAppear(out)
	}

	e.mustByOutput(id).setTransform(tr)
	return nil
}

// Configure applies a compositor size acknowledgment and paints the first
// frame at the acknowledged dimensions. Unlike output events, a configure
// can cross the destruction of its layer on the wire, so a miss here is
// dropped instead of treated as a bug.
func (e *Engine) Configure(layer compositor.LayerID, width, height uint32) error {
	s, ok := e.registry.ByLayer(layer)
	if !ok {
		e.log.Debug("configure for destroyed layer", "layer", layer)
		return nil
	}

	if err := s.configure(width, height); err != nil {
		return fmt.Errorf("surface %q: %w", s.Name(), err)
	}

	if err := s.Draw(); err != nil {
		return fmt.Errorf("surface %q: s.Draw: %w", s.Name(), err)
	}
	return nil
}

// ReloadConfig re-parses the wallpaper configuration. On parse failure the
// previous configuration stays in force. Existing surfaces pick the new
// settings up lazily on their next draw.
func (e *Engine) ReloadConfig() error {
	changed, err := e.store.Reload()
	if err != nil {
		return err
	}

	if changed {
		e.log.Info("configuration updated", "path", e.store.Path())
	}
	return nil
}

// Surfaces gives read access to the live surfaces. Only safe from the
// control goroutine.
func (e *Engine) Surfaces() []*Surface {
	return e.registry.All()
}

// retryAppear re-runs surface creation for an output whose earlier attempt
// failed. The triggering event proves the output is still live.
func (e *Engine) retryAppear(out compositor.Output) error {
	delete(e.pending, out.ID)

	if err := e.OutputAppeared(out); err != nil {
		return fmt.Errorf("retrying surface creation: %w", err)
	}
	return nil
}

func (e *Engine) mustByOutput(id compositor.OutputID) *Surface {
	s, ok := e.registry.ByOutput(id)
	if !ok {
		// events only ever reference announced, not yet destroyed outputs
		panic(fmt.Sprintf("daemon: no surface for output %d", id))
	}
	return s
}
