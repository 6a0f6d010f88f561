// Package compositor defines the contracts the daemon needs from the
// display server: the stream of output events and the layer-surface
// operations, plus adapters backed by the wayland and sway clients.
package compositor

// OutputID is the opaque identity of one output, stable for the lifetime of
// a single monitor attachment.
type OutputID uint32

// LayerID identifies one background layer surface.
type LayerID uint64

// Transform is the wl_output transform applied to an output.
type Transform int32

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

func (t Transform) String() string {
	switch t {
	case TransformNormal:
		return "normal"
	case Transform90:
		return "90"
	case Transform180:
		return "180"
	case Transform270:
		return "270"
	case TransformFlipped:
		return "flipped"
	case TransformFlipped90:
		return "flipped-90"
	case TransformFlipped180:
		return "flipped-180"
	case TransformFlipped270:
		return "flipped-270"
	}
	return "unknown"
}

// Output is one display as announced by the compositor.
type Output struct {
	ID        OutputID
	Name      string
	Scale     int32
	Transform Transform

	// current mode, in pixels
	Width  int32
	Height int32

	// physical dimensions in [mm]
	PhysicalWidth  int
	PhysicalHeight int
}

// Anchor is a bitmask of output edges a layer surface is attached to.
type Anchor uint32

const (
	AnchorTop Anchor = 1 << iota
	AnchorBottom
	AnchorLeft
	AnchorRight

	// AnchorFull pins the surface to the whole output.
	AnchorFull = AnchorTop | AnchorBottom | AnchorLeft | AnchorRight
)

// ExclusiveZoneNone asks the compositor not to reserve any space for the
// surface.
const ExclusiveZoneNone int32 = -1

// LayerOptions parametrize a background layer surface.
type LayerOptions struct {
	// Namespace keeps layer surfaces of different outputs distinguishable.
	Namespace string

	Anchor        Anchor
	ExclusiveZone int32

	// Requested size. Zero means "let the compositor decide".
	Width  uint32
	Height uint32

	// EmptyInputRegion makes the compositor fall back to rendering its
	// default pointer cursor over the surface.
	EmptyInputRegion bool
}

// Client exposes the layer-surface operations the daemon performs. Events
// referencing a layer created here are guaranteed to arrive only between
// CreateLayerSurface and DestroyLayerSurface.
type Client interface {
	CreateLayerSurface(out Output, opts LayerOptions) (LayerID, error)
	DestroyLayerSurface(id LayerID) error
}

// Event is one compositor-delivered event. The concrete types below are the
// only implementations.
type Event interface {
	event()
}

// OutputAppeared announces a new output with its initial geometry known.
type OutputAppeared struct {
	Output Output
}

// OutputChanged reports changed output metadata without add/remove.
type OutputChanged struct {
	Output Output
}

// OutputDisappeared announces that an output is gone.
type OutputDisappeared struct {
	ID OutputID
}

// ScaleChanged reports a new scale factor for an output.
type ScaleChanged struct {
	ID     OutputID
	Factor int32
}

// TransformChanged reports a new transform for an output.
type TransformChanged struct {
	ID        OutputID
	Transform Transform
}

// LayerConfigured is the compositor's size acknowledgment for a layer
// surface. Rendering is safe only after the first one.
type LayerConfigured struct {
	Layer  LayerID
	Width  uint32
	Height uint32
}

func (OutputAppeared) event()    {}
func (OutputChanged) event()     {}
func (OutputDisappeared) event() {}
func (ScaleChanged) event()      {}
func (TransformChanged) event()  {}
func (LayerConfigured) event()   {}
