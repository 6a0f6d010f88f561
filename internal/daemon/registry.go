package daemon

import (
	"github.com/waypaper/waypaperd/internal/compositor"
)

// Registry is the ordered collection of live surfaces, keyed by output
// identity. Iteration order carries no meaning, removal swaps with the last
// entry.
type Registry struct {
	surfaces []*Surface
}

func (r *Registry) Insert(s *Surface) {
	r.surfaces = append(r.surfaces, s)
}

// RemoveByOutput removes and returns the surface owning the given output.
func (r *Registry) RemoveByOutput(id compositor.OutputID) (*Surface, bool) {
	for i, s := range r.surfaces {
		if s.output.ID == id {
			last := len(r.surfaces) - 1
			r.surfaces[i] = r.surfaces[last]
			r.surfaces[last] = nil
			r.surfaces = r.surfaces[:last]
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) ByOutput(id compositor.OutputID) (*Surface, bool) {
	for _, s := range r.surfaces {
		if s.output.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) ByLayer(id compositor.LayerID) (*Surface, bool) {
	for _, s := range r.surfaces {
		if s.layer == id {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) All() []*Surface {
	return r.surfaces
}

func (r *Registry) Len() int {
	return len(r.surfaces)
}
