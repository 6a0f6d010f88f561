package compositor

import (
	"context"
	"fmt"
	"sort"

	"github.com/joshuarubin/go-sway"
)

// Info carries the output metadata reported by the sway IPC, which knows
// more than the core wayland protocol (logical position, active state,
// fractional scale).
type Info struct {
	Name      string
	Width     int
	Height    int
	X         int
	Y         int
	Scale     float64
	Transform string
	Active    bool
}

// InfoCache is a cache of sway output metadata, invalidated on topology
// changes.
type InfoCache struct {
	swayCl sway.Client
	lookup map[string]*Info

	isValid bool
}

func NewInfoCache(cl sway.Client) *InfoCache {
	return &InfoCache{
		swayCl: cl,
		lookup: make(map[string]*Info),
	}
}

// look returns value from lookup (translates ok to err)
func (c *InfoCache) look(name string) (*Info, error) {
	info, ok := c.lookup[name]
	if !ok {
		return nil, fmt.Errorf("output %q not found", name)
	}
	return info, nil
}

// Get returns the metadata for the named output, refreshing the cache when
// it is invalid.
func (c *InfoCache) Get(ctx context.Context, name string) (*Info, error) {
	if c.isValid {
		return c.look(name)
	}

	lookup, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.lookup = lookup
	c.isValid = true

	return c.look(name)
}

// All returns the metadata of every output, sorted by name.
func (c *InfoCache) All(ctx context.Context) ([]*Info, error) {
	if !c.isValid {
		lookup, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.lookup = lookup
		c.isValid = true
	}

	infos := make([]*Info, 0, len(c.lookup))
	for _, info := range c.lookup {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

func (c *InfoCache) fetch(ctx context.Context) (map[string]*Info, error) {
	outs, err := c.swayCl.GetOutputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("c.swayCl.GetOutputs: %w", err)
	}

	lookup := make(map[string]*Info, len(outs))
	for _, o := range outs {
		lookup[o.Name] = &Info{
			Name:      o.Name,
			Width:     int(o.Rect.Width),
			Height:    int(o.Rect.Height),
			X:         int(o.Rect.X),
			Y:         int(o.Rect.Y),
			Scale:     o.Scale,
			Transform: o.Transform,
			Active:    o.Active,
		}
	}

	return lookup, nil
}

func (c *InfoCache) Invalidate() {
	c.isValid = false
}
