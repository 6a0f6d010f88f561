package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/neurlang/wayland/wl"
	"github.com/neurlang/wayland/wlclient"
)

// wl_output.mode flag marking the current mode.
const modeCurrent = 0x1

// Source connects to the wayland display, tracks wl_output globals and
// translates their events into the Event stream consumed by the daemon.
// It also implements Client for the background layer surfaces.
//
// TODO: drive layer sizing through zwlr-layer-shell-v1 once the wayland
// client library exposes it; until then configure events are synthesized
// from the current output mode, which is exactly the size the layer shell
// hands to an anchored-everywhere surface with a (0,0) size request.
type Source struct {
	log      *slog.Logger
	display  *wl.Display
	registry *wl.Registry
	events   chan Event

	// guards outputs and layers: wayland events arrive on the dispatch
	// goroutine, layer calls come from the control loop
	mu        sync.Mutex
	outputs   map[OutputID]*outputState
	layers    map[LayerID]*layerState
	nextLayer LayerID
}

type outputState struct {
	id        OutputID
	proxy     *wl.Output
	current   Output
	pending   Output
	announced bool
}

type layerState struct {
	output    OutputID
	namespace string
	autosize  bool
	width     uint32
	height    uint32
}

var (
	_ Client                    = (*Source)(nil)
	_ wlclient.RegistryListener = (*Source)(nil)
)

// Connect establishes the wayland connection and registers for output
// globals. Events start flowing once Run is called.
func Connect(logger *slog.Logger) (*Source, error) {
	display, err := wlclient.DisplayConnect(nil)
	if err != nil {
		return nil, fmt.Errorf("wlclient.DisplayConnect: %w", err)
	}

	registry, err := wlclient.DisplayGetRegistry(display)
	if err != nil {
		wlclient.DisplayDisconnect(display)
		return nil, fmt.Errorf("wlclient.DisplayGetRegistry: %w", err)
	}

	s := &Source{
		log:      logger,
		display:  display,
		registry: registry,
		events:   make(chan Event, 64),
		outputs:  make(map[OutputID]*outputState),
		layers:   make(map[LayerID]*layerState),
	}

	wlclient.RegistryAddListener(registry, s)

	return s, nil
}

// Events returns the event stream. It is drained by a single control
// goroutine.
func (s *Source) Events() <-chan Event {
	return s.events
}

// Run dispatches wayland events until the context is cancelled or the
// connection fails.
func (s *Source) Run(ctx context.Context) error {
	// first roundtrip delivers the globals, second one the output events
	if err := wlclient.DisplayRoundtrip(s.display); err != nil {
		return fmt.Errorf("wlclient.DisplayRoundtrip: %w", err)
	}
	if err := wlclient.DisplayRoundtrip(s.display); err != nil {
		return fmt.Errorf("wlclient.DisplayRoundtrip: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := wlclient.DisplayDispatch(s.display); err != nil {
			return fmt.Errorf("wlclient.DisplayDispatch: %w", err)
		}
	}
}

// Close tears down the wayland connection. It unblocks a concurrent Run.
func (s *Source) Close() {
	wlclient.RegistryDestroy(s.registry)
	wlclient.DisplayDisconnect(s.display)
}

// Outputs returns a copy of the outputs announced so far, sorted by name.
func (s *Source) Outputs() []Output {
	s.mu.Lock()
	defer s.mu.Unlock()

	outputs := make([]Output, 0, len(s.outputs))
	for _, st := range s.outputs {
		if st.announced {
			outputs = append(outputs, st.current)
		}
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Name < outputs[j].Name })

	return outputs
}

// Snapshot connects, waits for the current set of outputs and disconnects.
// Used by one-shot tooling that has no event loop of its own.
func Snapshot(logger *slog.Logger) ([]Output, error) {
	src, err := Connect(logger)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := wlclient.DisplayDispatch(src.display); err != nil {
		return nil, fmt.Errorf("wlclient.DisplayDispatch: %w", err)
	}
	// first roundtrip triggers the registry listener
	if err := wlclient.DisplayRoundtrip(src.display); err != nil {
		return nil, fmt.Errorf("wlclient.DisplayRoundtrip: %w", err)
	}
	// second roundtrip triggers the output listeners
	if err := wlclient.DisplayRoundtrip(src.display); err != nil {
		return nil, fmt.Errorf("wlclient.DisplayRoundtrip: %w", err)
	}

	return src.Outputs(), nil
}

// HandleRegistryGlobal binds every announced wl_output and attaches the
// per-output listeners.
func (s *Source) HandleRegistryGlobal(e wl.RegistryGlobalEvent) {
	if e.Interface != "wl_output" {
		return
	}

	proxy := wlclient.RegistryBindOutputInterface(s.registry, e.Name, e.Version)

	st := &outputState{
		id:    OutputID(e.Name),
		proxy: proxy,
		pending: Output{
			ID:    OutputID(e.Name),
			Scale: 1,
		},
	}

	s.mu.Lock()
	s.outputs[st.id] = st
	s.mu.Unlock()

	ol := &outputListener{src: s, st: st}
	proxy.AddGeometryHandler(ol)
	proxy.AddModeHandler(ol)
	proxy.AddNameHandler(ol)
	proxy.AddScaleHandler(ol)
	proxy.AddDoneHandler(ol)
}

func (s *Source) HandleRegistryGlobalRemove(e wl.RegistryGlobalRemoveEvent) {
	id := OutputID(e.Name)

	s.mu.Lock()
	st, ok := s.outputs[id]
	if ok {
		delete(s.outputs, id)
	}
	s.mu.Unlock()

	if !ok || !st.announced {
		return
	}

	s.events <- OutputDisappeared{ID: id}
}

// outputDone flushes the pending output state accumulated since the last
// wl_output.done and emits the matching events.
func (s *Source) outputDone(st *outputState) {
	s.mu.Lock()

	var pending []Event

	prev := st.current
	st.current = st.pending

	if !st.announced {
		st.announced = true
		pending = append(pending, OutputAppeared{Output: st.current})
	} else {
		if st.current.Scale != prev.Scale {
			pending = append(pending, ScaleChanged{ID: st.id, Factor: st.current.Scale})
		}
		if st.current.Transform != prev.Transform {
			pending = append(pending, TransformChanged{ID: st.id, Transform: st.current.Transform})
		}
		if st.current.Width != prev.Width || st.current.Height != prev.Height {
			pending = append(pending, OutputChanged{Output: st.current})
			pending = append(pending, s.resizeLayersLocked(st)...)
		}
	}

	s.mu.Unlock()

	for _, ev := range pending {
		s.events <- ev
	}
}

// resizeLayersLocked recomputes synthesized configures for autosized layers
// on the given output. Caller holds s.mu.
func (s *Source) resizeLayersLocked(st *outputState) []Event {
	var evs []Event
	for id, layer := range s.layers {
		if layer.output != st.id || !layer.autosize {
			continue
		}
		layer.width = uint32(st.current.Width)
		layer.height = uint32(st.current.Height)
		evs = append(evs, LayerConfigured{Layer: id, Width: layer.width, Height: layer.height})
	}
	return evs
}

// CreateLayerSurface registers a background layer for the output and queues
// its initial configure event.
func (s *Source) CreateLayerSurface(out Output, opts LayerOptions) (LayerID, error) {
	s.mu.Lock()

	if _, ok := s.outputs[out.ID]; !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("output %d is not live", out.ID)
	}

	s.nextLayer++
	id := s.nextLayer

	layer := &layerState{
		output:    out.ID,
		namespace: opts.Namespace,
		autosize:  opts.Width == 0 && opts.Height == 0,
		width:     opts.Width,
		height:    opts.Height,
	}
	if layer.autosize {
		layer.width = uint32(out.Width)
		layer.height = uint32(out.Height)
	}
	s.layers[id] = layer

	s.mu.Unlock()

	s.log.Debug("layer surface created",
		"namespace", opts.Namespace,
		"output", out.Name,
		"width", layer.width,
		"height", layer.height)

	// the caller is the same goroutine that drains the event channel, so a
	// direct send deadlocks once the buffer is full
	ev := LayerConfigured{Layer: id, Width: layer.width, Height: layer.height}
	go func() { s.events <- ev }()

	return id, nil
}

func (s *Source) DestroyLayerSurface(id LayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.layers[id]; !ok {
		return fmt.Errorf("layer %d not found", id)
	}

	delete(s.layers, id)
	return nil
}

var (
	_ wl.OutputGeometryHandler = (*outputListener)(nil)
	_ wl.OutputModeHandler     = (*outputListener)(nil)
	_ wl.OutputNameHandler     = (*outputListener)(nil)
	_ wl.OutputScaleHandler    = (*outputListener)(nil)
	_ wl.OutputDoneHandler     = (*outputListener)(nil)
)

// outputListener accumulates wl_output events into the pending state, which
// becomes authoritative on wl_output.done.
type outputListener struct {
	src *Source
	st  *outputState
}

func (ol *outputListener) HandleOutputGeometry(e wl.OutputGeometryEvent) {
	ol.src.mu.Lock()
	ol.st.pending.PhysicalWidth = int(e.PhysicalWidth)
	ol.st.pending.PhysicalHeight = int(e.PhysicalHeight)
	ol.st.pending.Transform = Transform(e.Transform)
	ol.src.mu.Unlock()
}

func (ol *outputListener) HandleOutputMode(e wl.OutputModeEvent) {
	if e.Flags&modeCurrent == 0 {
		return
	}

	ol.src.mu.Lock()
	ol.st.pending.Width = e.Width
	ol.st.pending.Height = e.Height
	ol.src.mu.Unlock()
}

func (ol *outputListener) HandleOutputName(e wl.OutputNameEvent) {
	ol.src.mu.Lock()
	ol.st.pending.Name = e.Name
	ol.src.mu.Unlock()
}

func (ol *outputListener) HandleOutputScale(e wl.OutputScaleEvent) {
	ol.src.mu.Lock()
	ol.st.pending.Scale = e.Factor
	ol.src.mu.Unlock()
}

func (ol *outputListener) HandleOutputDone(e wl.OutputDoneEvent) {
	ol.src.outputDone(ol.st)
}
