// Package render defines the render-target contract consumed by the daemon
// and a software buffer implementation of it.
package render

import (
	"errors"
	"fmt"
	"sync"

	"github.com/waypaper/waypaperd/internal/compositor"
	"github.com/waypaper/waypaperd/internal/wallpaper"
)

// TargetID identifies one bound render target.
type TargetID uint64

// ErrBufferTooLarge is returned when a resize would exceed the buffer cap.
// The caller keeps its previous target and may retry later.
var ErrBufferTooLarge = errors.New("render: buffer too large")

// ErrNoBuffer is returned when drawing is attempted before the first
// successful resize.
var ErrNoBuffer = errors.New("render: target has no buffer")

// Renderer is the collaborator that owns pixel buffers. Bind/Resize failures
// are recoverable, the daemon retries them on the next relevant event.
type Renderer interface {
	Bind(layer compositor.LayerID) (TargetID, error)
	SetScale(t TargetID, factor int32)
	SetTransform(t TargetID, tr compositor.Transform)
	Resize(t TargetID, width, height uint32) error
	Draw(t TargetID, s wallpaper.Settings) error
	Release(t TargetID)
}

// BufferRenderer keeps per-target software buffers sized by the logical
// dimensions and the buffer scale. It performs no pixel decoding, the image
// pipeline plugs in behind Draw.
type BufferRenderer struct {
	// cap on a single buffer, guards against absurd mode/scale combinations
	maxBufferBytes int

	mu      sync.Mutex
	targets map[TargetID]*target
	nextID  TargetID
}

type target struct {
	layer     compositor.LayerID
	scale     int32
	transform compositor.Transform
	width     uint32
	height    uint32
	buf       []byte
	draws     int
	last      wallpaper.Settings
}

var _ Renderer = (*BufferRenderer)(nil)

func NewBufferRenderer() *BufferRenderer {
	return &BufferRenderer{
		maxBufferBytes: 512 << 20,
		targets:        make(map[TargetID]*target),
	}
}

// must looks up a target that the daemon guarantees to exist.
func (r *BufferRenderer) must(id TargetID) *target {
	t, ok := r.targets[id]
	if !ok {
		panic(fmt.Sprintf("render: unknown target %d", id))
	}
	return t
}

func (r *BufferRenderer) Bind(layer compositor.LayerID) (TargetID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.targets[r.nextID] = &target{
		layer: layer,
		scale: 1,
	}

	return r.nextID, nil
}

func (r *BufferRenderer) SetScale(id TargetID, factor int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.must(id).scale = factor
}

func (r *BufferRenderer) SetTransform(id TargetID, tr compositor.Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.must(id).transform = tr
}

// Resize reallocates the target's buffer for the given logical dimensions,
// interpreted at the target's current scale. On failure the previous buffer
// stays usable.
func (r *BufferRenderer) Resize(id TargetID, width, height uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.must(id)

	size := int64(width) * int64(height) * 4 * int64(t.scale) * int64(t.scale)
	if size > int64(r.maxBufferBytes) {
		return fmt.Errorf("%dx%d at scale %d: %w", width, height, t.scale, ErrBufferTooLarge)
	}

	t.buf = make([]byte, size)
	t.width = width
	t.height = height

	return nil
}

func (r *BufferRenderer) Draw(id TargetID, s wallpaper.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.must(id)
	if t.buf == nil {
		return ErrNoBuffer
	}

	t.draws++
	t.last = s

	return nil
}

func (r *BufferRenderer) Release(id TargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.must(id)
	delete(r.targets, id)
}

// TargetCount reports the number of live targets.
func (r *BufferRenderer) TargetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.targets)
}
