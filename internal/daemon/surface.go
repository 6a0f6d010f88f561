package daemon

import (
	"errors"
	"fmt"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/render"
	"github.com/waypaper/waypaperd/internal/wallpaper"
)

// ErrNotConfigured is returned when drawing is attempted before the
// compositor acknowledged the surface size.
var ErrNotConfigured = errors.New("surface not configured yet")

// Surface is the per-output rendering state: one background layer, one
// render target, and the geometry the compositor last acknowledged.
type Surface struct {
	store    *wallpaper.Store
	renderer render.Renderer

	output compositor.Output
	layer  compositor.LayerID
	target render.TargetID

	// last acknowledged logical dimensions
	width  uint32
	height uint32

	scale     int32
	transform compositor.Transform

	// set after the first configure, rendering is unsafe before that
	configured bool

	// set when a resize failed, the next configure retries it even if the
	// dimensions did not change
	needsResize bool

	settings wallpaper.Settings
}

func newSurface(store *wallpaper.Store, renderer render.Renderer, out compositor.Output, layer compositor.LayerID, target render.TargetID, scale int32) *Surface {
	return &Surface{
		store:     store,
		renderer:  renderer,
		output:    out,
		layer:     layer,
		target:    target,
		scale:     scale,
		transform: out.Transform,
		settings:  store.Lookup(out.Name),
	}
}

func (s *Surface) Name() string                 { return s.output.Name }
func (s *Surface) Configured() bool             { return s.configured }
func (s *Surface) Scale() int32                 { return s.scale }
func (s *Surface) Dimensions() (w, h uint32)    { return s.width, s.height }
func (s *Surface) Settings() wallpaper.Settings { return s.settings }

// setScale applies a new buffer scale. Duplicate notifications are ignored,
// a real change propagates to the render target and triggers a resize at
// the last known dimensions.
func (s *Surface) setScale(factor int32) error {
	if factor == s.scale {
		return nil
	}

	s.scale = factor
	s.renderer.SetScale(s.target, factor)

	if err := s.resize(s.width, s.height); err != nil {
		return fmt.Errorf("s.resize: %w", err)
	}
	return nil
}

// setTransform forwards the transform to the render target. It never forces
// a resize.
func (s *Surface) setTransform(tr compositor.Transform) {
	s.transform = tr
	s.renderer.SetTransform(s.target, tr)
}

// configure applies a compositor size acknowledgment. The resize has to
// complete before the configured flag flips, so that the first draw uses
// correct dimensions. On resize failure the previous configured state is
// kept and the next configure retries.
func (s *Surface) configure(width, height uint32) error {
	if width != s.width || height != s.height || s.needsResize {
		if err := s.resize(width, height); err != nil {
			return fmt.Errorf("s.resize: %w", err)
		}
	}

	s.configured = true
	return nil
}

func (s *Surface) resize(width, height uint32) error {
	if err := s.renderer.Resize(s.target, width, height); err != nil {
		s.needsResize = true
		return fmt.Errorf("s.renderer.Resize: %w", err)
	}

	s.needsResize = false
	s.width = width
	s.height = height
	return nil
}

// Draw renders the wallpaper resolved for this output. Settings are pulled
// from the store on every draw, so a config reload takes effect on the next
// repaint without the store pushing anything.
func (s *Surface) Draw() error {
	if !s.configured {
		return ErrNotConfigured
	}

	s.settings = s.store.Lookup(s.output.Name)

	if err := s.renderer.Draw(s.target, s.settings); err != nil {
		return fmt.Errorf("s.renderer.Draw: %w", err)
	}
	return nil
}

// release frees the render target. The layer surface itself is destroyed by
// the engine, which owns the compositor client.
func (s *Surface) release() {
	s.renderer.Release(s.target)
}
