package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/render"
)

func registrySurface(id compositor.OutputID, layer compositor.LayerID) *Surface {
	return &Surface{
		output: compositor.Output{ID: id},
		layer:  layer,
		target: render.TargetID(id),
	}
}

func TestRegistryRemoveSwapsWithLast(t *testing.T) {
	r := require.New(t)

	var reg Registry
	reg.Insert(registrySurface(1, 10))
	reg.Insert(registrySurface(2, 20))
	reg.Insert(registrySurface(3, 30))

	removed, ok := reg.RemoveByOutput(1)
	r.True(ok)
	r.Equal(compositor.OutputID(1), removed.output.ID)
	r.Equal(2, reg.Len())

	// remaining entries stay findable regardless of reordering
	for _, id := range []compositor.OutputID{2, 3} {
		s, ok := reg.ByOutput(id)
		r.True(ok)
		r.Equal(id, s.output.ID)
	}

	_, ok = reg.RemoveByOutput(1)
	r.False(ok)
}

func TestRegistryByLayer(t *testing.T) {
	r := require.New(t)

	var reg Registry
	reg.Insert(registrySurface(1, 10))
	reg.Insert(registrySurface(2, 20))

	s, ok := reg.ByLayer(20)
	r.True(ok)
	r.Equal(compositor.OutputID(2), s.output.ID)

	_, ok = reg.ByLayer(99)
	r.False(ok)
}
