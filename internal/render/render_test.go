package render

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/wallpaper"
)

func TestBufferRendererLifecycle(t *testing.T) {
	r := require.New(t)

	br := NewBufferRenderer()

	id, err := br.Bind(compositor.LayerID(7))
	r.NoError(err)
	r.Equal(1, br.TargetCount())

	// drawing before the first resize is rejected
	err = br.Draw(id, wallpaper.Settings{Path: "/tmp/a.png", Mode: wallpaper.ModeFill})
	r.ErrorIs(err, ErrNoBuffer)

	err = br.Resize(id, 1920, 1080)
	r.NoError(err)

	err = br.Draw(id, wallpaper.Settings{Path: "/tmp/a.png", Mode: wallpaper.ModeFill})
	r.NoError(err)

	br.Release(id)
	r.Equal(0, br.TargetCount())
}

func TestBufferRendererScaleAffectsAllocation(t *testing.T) {
	r := require.New(t)

	br := NewBufferRenderer()
	br.maxBufferBytes = 1920 * 1080 * 4 * 2 // fits scale 1, not scale 2

	id, err := br.Bind(compositor.LayerID(1))
	r.NoError(err)

	err = br.Resize(id, 1920, 1080)
	r.NoError(err)

	br.SetScale(id, 2)

	// same logical dimensions, reinterpreted at the new scale
	err = br.Resize(id, 1920, 1080)
	r.ErrorIs(err, ErrBufferTooLarge)

	// failed resize keeps the previous buffer usable
	err = br.Draw(id, wallpaper.Settings{Path: "/tmp/a.png", Mode: wallpaper.ModeFit})
	r.NoError(err)
}

func TestBufferRendererUnknownTargetPanics(t *testing.T) {
	r := require.New(t)

	br := NewBufferRenderer()

	r.Panics(func() {
		br.SetScale(TargetID(42), 2)
	})
}
