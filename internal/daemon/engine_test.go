package daemon

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/render"
	"github.com/waypaper/waypaperd/internal/wallpaper"
)

type fakeTarget struct {
	layer     compositor.LayerID
	scale     int32
	transform compositor.Transform
	width     uint32
	height    uint32
	resizes   int
	draws     int
	last      wallpaper.Settings
}

// fakeRenderer records renderer calls and can fail binds and resizes on
// demand.
type fakeRenderer struct {
	nextID    render.TargetID
	targets   map[render.TargetID]*fakeTarget
	bindErr   error
	resizeErr error
}

var _ render.Renderer = (*fakeRenderer)(nil)

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{targets: make(map[render.TargetID]*fakeTarget)}
}

func (r *fakeRenderer) Bind(layer compositor.LayerID) (render.TargetID, error) {
	if r.bindErr != nil {
		return 0, r.bindErr
	}
	r.nextID++
	r.targets[r.nextID] = &fakeTarget{layer: layer, scale: 1}
	return r.nextID, nil
}

func (r *fakeRenderer) SetScale(t render.TargetID, factor int32) {
	r.targets[t].scale = factor
}

func (r *fakeRenderer) SetTransform(t render.TargetID, tr compositor.Transform) {
	r.targets[t].transform = tr
}

func (r *fakeRenderer) Resize(t render.TargetID, width, height uint32) error {
	if r.resizeErr != nil {
		return r.resizeErr
	}
	ft := r.targets[t]
	ft.resizes++
	ft.width = width
	ft.height = height
	return nil
}

func (r *fakeRenderer) Draw(t render.TargetID, s wallpaper.Settings) error {
	ft := r.targets[t]
	ft.draws++
	ft.last = s
	return nil
}

func (r *fakeRenderer) Release(t render.TargetID) {
	delete(r.targets, t)
}

// fakeClient records layer surface calls.
type fakeClient struct {
	nextID    compositor.LayerID
	created   map[compositor.LayerID]compositor.LayerOptions
	destroyed []compositor.LayerID
	createErr error
}

var _ compositor.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{created: make(map[compositor.LayerID]compositor.LayerOptions)}
}

func (c *fakeClient) CreateLayerSurface(out compositor.Output, opts compositor.LayerOptions) (compositor.LayerID, error) {
	if c.createErr != nil {
		return 0, c.createErr
	}
	c.nextID++
	c.created[c.nextID] = opts
	return c.nextID, nil
}

func (c *fakeClient) DestroyLayerSurface(id compositor.LayerID) error {
	c.destroyed = append(c.destroyed, id)
	return nil
}

func testStore(t *testing.T, content string) *wallpaper.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wallpaper.toml")
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)

	store, err := wallpaper.Load(path)
	require.NoError(t, err)

	return store
}

const testConfig = `
[default]
path = "/backgrounds/wallpaper-d.png"

[eDP-1]
path = "/backgrounds/wallpaper-a.png"
mode = "fit"
`

type testEngine struct {
	engine   *Engine
	client   *fakeClient
	renderer *fakeRenderer
	store    *wallpaper.Store
}

func newTestEngine(t *testing.T, scaledWindow bool) *testEngine {
	t.Helper()

	client := newFakeClient()
	renderer := newFakeRenderer()
	store := testStore(t, testConfig)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEngine{
		engine:   NewEngine(logger, store, client, renderer, scaledWindow),
		client:   client,
		renderer: renderer,
		store:    store,
	}
}

func output(id compositor.OutputID, name string, scale int32) compositor.Output {
	return compositor.Output{
		ID:     id,
		Name:   name,
		Scale:  scale,
		Width:  1920,
		Height: 1080,
	}
}

// appear runs the full appear+configure sequence for an output and returns
// its surface.
func (te *testEngine) appear(t *testing.T, out compositor.Output) *Surface {
	t.Helper()
	r := require.New(t)

	r.NoError(te.engine.OutputAppeared(out))

	s, ok := te.engine.registry.ByOutput(out.ID)
	r.True(ok)

	r.NoError(te.engine.Configure(s.layer, uint32(out.Width), uint32(out.Height)))
	return s
}

func TestRegistryTracksLiveOutputs(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	r.NoError(te.engine.OutputAppeared(output(1, "eDP-1", 1)))
	r.NoError(te.engine.OutputAppeared(output(2, "HDMI-1", 1)))
	r.NoError(te.engine.OutputAppeared(output(3, "DP-3", 2)))
	r.Equal(3, te.engine.registry.Len())

	te.engine.OutputDisappeared(2)
	r.Equal(2, te.engine.registry.Len())

	_, ok := te.engine.registry.ByOutput(2)
	r.False(ok)
	for _, id := range []compositor.OutputID{1, 3} {
		_, ok := te.engine.registry.ByOutput(id)
		r.True(ok)
	}

	te.engine.OutputDisappeared(1)
	te.engine.OutputDisappeared(3)
	r.Equal(0, te.engine.registry.Len())
	r.Len(te.client.destroyed, 3)
}

func TestLayerSurfaceRequest(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	r.NoError(te.engine.OutputAppeared(output(1, "eDP-1", 2)))

	opts := te.client.created[1]
	r.Equal("waypaperd-eDP-1", opts.Namespace)
	r.Equal(compositor.AnchorFull, opts.Anchor)
	r.Equal(compositor.ExclusiveZoneNone, opts.ExclusiveZone)
	r.Zero(opts.Width)
	r.Zero(opts.Height)
	r.True(opts.EmptyInputRegion)

	// reported scale is propagated to the render target
	r.Equal(int32(2), te.renderer.targets[1].scale)
}

func TestScaledWindowModePinsScale(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, true)

	s := te.appear(t, output(1, "eDP-1", 2))
	r.Equal(int32(1), s.Scale())
	r.Equal(int32(1), te.renderer.targets[1].scale)
}

func TestScaleChangeIdempotent(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	te.appear(t, output(1, "eDP-1", 1))
	target := te.renderer.targets[1]
	resizesBefore := target.resizes

	r.NoError(te.engine.ScaleChanged(1, 2))
	r.Equal(resizesBefore+1, target.resizes)
	r.Equal(int32(2), target.scale)

	// duplicate notification, no second resize
	r.NoError(te.engine.ScaleChanged(1, 2))
	r.Equal(resizesBefore+1, target.resizes)
}

func TestScaleChangeKeepsDimensions(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	s := te.appear(t, output(1, "eDP-1", 1))

	r.NoError(te.engine.ScaleChanged(1, 2))

	// last known logical size, reinterpreted at the new scale
	w, h := s.Dimensions()
	r.Equal(uint32(1920), w)
	r.Equal(uint32(1080), h)
	r.Equal(uint32(1920), te.renderer.targets[1].width)
}

func TestTransformChangeNeverResizes(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	te.appear(t, output(1, "eDP-1", 1))
	target := te.renderer.targets[1]
	resizesBefore := target.resizes

	r.NoError(te.engine.TransformChanged(1, compositor.Transform90))
	r.Equal(compositor.Transform90, target.transform)
	r.Equal(resizesBefore, target.resizes)
}

func TestConfigureOrdering(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	r.NoError(te.engine.OutputAppeared(output(1, "eDP-1", 1)))
	s, _ := te.engine.registry.ByOutput(1)

	// rendering before the first configure is rejected
	r.ErrorIs(s.Draw(), ErrNotConfigured)
	r.False(s.Configured())

	r.NoError(te.engine.Configure(s.layer, 1920, 1080))
	r.True(s.Configured())

	w, h := s.Dimensions()
	r.Equal(uint32(1920), w)
	r.Equal(uint32(1080), h)

	// equal dimensions skip the resize but still draw
	target := te.renderer.targets[1]
	resizes, draws := target.resizes, target.draws
	r.NoError(te.engine.Configure(s.layer, 1920, 1080))
	r.Equal(resizes, target.resizes)
	r.Equal(draws+1, target.draws)
}

func TestResizeFailureIsRecoverable(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	r.NoError(te.engine.OutputAppeared(output(1, "eDP-1", 1)))
	s, _ := te.engine.registry.ByOutput(1)

	te.renderer.resizeErr = render.ErrBufferTooLarge
	r.Error(te.engine.Configure(s.layer, 1920, 1080))

	// surface stays unconfigured, the daemon keeps running
	r.False(s.Configured())

	// next configure retries and succeeds
	te.renderer.resizeErr = nil
	r.NoError(te.engine.Configure(s.layer, 1920, 1080))
	r.True(s.Configured())
}

func TestScaleResizeFailureRetriedOnConfigure(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	s := te.appear(t, output(1, "eDP-1", 1))
	target := te.renderer.targets[1]

	te.renderer.resizeErr = render.ErrBufferTooLarge
	r.Error(te.engine.ScaleChanged(1, 2))
	resizesAfterFailure := target.resizes

	// the duplicate notification is still absorbed
	te.renderer.resizeErr = nil
	r.NoError(te.engine.ScaleChanged(1, 2))
	r.Equal(resizesAfterFailure, target.resizes)

	// an unchanged-size configure picks the failed resize back up, so the
	// buffer ends up reallocated at the new scale
	r.NoError(te.engine.Configure(s.layer, 1920, 1080))
	r.Equal(resizesAfterFailure+1, target.resizes)
	r.Equal(int32(2), target.scale)

	w, h := s.Dimensions()
	r.Equal(uint32(1920), w)
	r.Equal(uint32(1080), h)
}

func TestBindFailureToleratesLaterEvents(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	te.renderer.bindErr = errors.New("shm pool exhausted")
	r.Error(te.engine.OutputAppeared(output(1, "eDP-1", 1)))
	r.Equal(0, te.engine.registry.Len())

	// the half-created layer was torn down again
	r.Equal([]compositor.LayerID{1}, te.client.destroyed)

	// still failing: absorbed, not escalated to a panic
	r.Error(te.engine.ScaleChanged(1, 2))

	// once binding works the next event recreates the surface
	te.renderer.bindErr = nil
	r.NoError(te.engine.ScaleChanged(1, 2))

	s, ok := te.engine.registry.ByOutput(1)
	r.True(ok)
	r.Equal(int32(2), s.Scale())
}

func TestLayerCreationFailureRetriedOnTransform(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	te.client.createErr = errors.New("compositor gone")
	r.Error(te.engine.OutputAppeared(output(1, "eDP-1", 1)))

	te.client.createErr = nil
	r.NoError(te.engine.TransformChanged(1, compositor.Transform90))

	s, ok := te.engine.registry.ByOutput(1)
	r.True(ok)
	r.Equal(compositor.Transform90, s.transform)
}

func TestOutputGoneBeforeSurfaceExists(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	te.renderer.bindErr = errors.New("shm pool exhausted")
	r.Error(te.engine.OutputAppeared(output(1, "eDP-1", 1)))

	r.NotPanics(func() {
		te.engine.OutputDisappeared(1)
	})
	r.Equal(0, te.engine.registry.Len())

	// outputs that were never announced still panic
	r.Panics(func() {
		te.engine.OutputDisappeared(1)
	})
}

func TestConfigureAfterLayerDestroyed(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	s := te.appear(t, output(1, "eDP-1", 1))
	layer := s.layer

	te.engine.OutputDisappeared(1)

	// a configure already in flight when the layer went away is dropped
	r.NoError(te.engine.Configure(layer, 1920, 1080))
}

func TestMissingOutputPanics(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	r.Panics(func() {
		te.engine.TransformChanged(99, compositor.Transform180)
	})
	r.Panics(func() {
		te.engine.OutputDisappeared(99)
	})
}

func TestNameResolutionFallback(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	edp := te.appear(t, output(1, "eDP-1", 1))
	hdmi := te.appear(t, output(2, "HDMI-1", 1))

	r.Equal("/backgrounds/wallpaper-a.png", edp.Settings().Path)
	r.Equal(wallpaper.ModeFit, edp.Settings().Mode)

	// no entry for HDMI-1, default applies
	r.Equal("/backgrounds/wallpaper-d.png", hdmi.Settings().Path)
	r.Equal(wallpaper.ModeFill, hdmi.Settings().Mode)
}

func TestTwoOutputsThenOneDisappears(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	edp := te.appear(t, output(1, "eDP-1", 1))
	te.appear(t, output(2, "HDMI-1", 1))
	r.Equal(2, te.engine.registry.Len())

	te.engine.OutputDisappeared(2)

	r.Equal(1, te.engine.registry.Len())
	remaining, ok := te.engine.registry.ByOutput(1)
	r.True(ok)
	r.Equal(edp, remaining)
	r.Equal("eDP-1", remaining.Name())
}

func TestReloadTakesEffectLazily(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	s := te.appear(t, output(1, "HDMI-1", 1))
	r.Equal("/backgrounds/wallpaper-d.png", s.Settings().Path)

	err := os.WriteFile(te.store.Path(), []byte(`
[default]
path = "/backgrounds/wallpaper-new.png"
`), 0o644)
	r.NoError(err)

	r.NoError(te.engine.ReloadConfig())

	// nothing pushed, the surface still holds its resolved settings
	r.Equal("/backgrounds/wallpaper-d.png", s.Settings().Path)

	// the next draw pulls the new settings by name
	r.NoError(s.Draw())
	r.Equal("/backgrounds/wallpaper-new.png", s.Settings().Path)
}

func TestReloadFailureKeepsDaemonState(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	s := te.appear(t, output(1, "eDP-1", 1))

	err := os.WriteFile(te.store.Path(), []byte("not [valid toml"), 0o644)
	r.NoError(err)

	r.Error(te.engine.ReloadConfig())

	// previous configuration stays authoritative
	r.NoError(s.Draw())
	r.Equal("/backgrounds/wallpaper-a.png", s.Settings().Path)
}

func TestHandleDispatch(t *testing.T) {
	r := require.New(t)
	te := newTestEngine(t, false)

	r.NoError(te.engine.Handle(compositor.OutputAppeared{Output: output(1, "eDP-1", 1)}))
	s, ok := te.engine.registry.ByOutput(1)
	r.True(ok)

	r.NoError(te.engine.Handle(compositor.LayerConfigured{Layer: s.layer, Width: 1920, Height: 1080}))
	r.True(s.Configured())

	r.NoError(te.engine.Handle(compositor.ScaleChanged{ID: 1, Factor: 2}))
	r.Equal(int32(2), s.Scale())

	r.NoError(te.engine.Handle(compositor.OutputDisappeared{ID: 1}))
	r.Equal(0, te.engine.registry.Len())
}
