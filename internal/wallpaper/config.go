// Package wallpaper holds the per-output wallpaper configuration.
//
// The configuration file maps output names to wallpaper settings:
//
//	[default]
//	path = "/usr/share/backgrounds/default.png"
//	mode = "fill"
//
//	[eDP-1]
//	path = "~/pictures/laptop.png"
//	mode = "fit"
//
// The [default] section is mandatory and is used for outputs without an
// exact name match.
package wallpaper

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// DefaultSection is the fallback section name for outputs without an
// exact entry.
const DefaultSection = "default"

// Mode describes how the wallpaper is fitted onto an output.
type Mode string

const (
	ModeFill    Mode = "fill"
	ModeFit     Mode = "fit"
	ModeCenter  Mode = "center"
	ModeTile    Mode = "tile"
	ModeStretch Mode = "stretch"
)

// ParseMode converts a string to a Mode. An empty string maps to ModeFill.
func ParseMode(in string) (Mode, error) {
	switch strings.ToLower(in) {
	case "", "fill":
		return ModeFill, nil
	case "fit":
		return ModeFit, nil
	case "center":
		return ModeCenter, nil
	case "tile":
		return ModeTile, nil
	case "stretch":
		return ModeStretch, nil
	}

	return "", fmt.Errorf("invalid mode: %q, should be one of: fill, fit, center, tile, stretch", in)
}

// Settings describes the wallpaper for a single output. The whole record is
// comparable, reload change detection relies on that.
type Settings struct {
	Path string
	Mode Mode
}

// section mirrors one TOML table before validation.
type section struct {
	Path string `toml:"path"`
	Mode string `toml:"mode"`
}

// Store is the shared wallpaper configuration. A reload can be triggered
// from outside the event loop, so every access goes through the mutex and
// the settings map is only ever replaced wholesale.
type Store struct {
	mu      sync.Mutex
	path    string
	outputs map[string]Settings
}

// Load reads the configuration file at path and returns a Store bound to it.
func Load(path string) (*Store, error) {
	outputs, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		path:    path,
		outputs: outputs,
	}, nil
}

// Path returns the file the store was loaded from.
func (s *Store) Path() string {
	return s.path
}

// Reload re-parses the configuration file. On success it reports whether the
// content changed and replaces the store atomically. On failure the previous
// configuration stays in force.
func (s *Store) Reload() (changed bool, err error) {
	outputs, err := parseFile(s.path)
	if err != nil {
		return false, fmt.Errorf("reloading configuration from %q: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if maps.Equal(s.outputs, outputs) {
		return false, nil
	}

	s.outputs = outputs
	return true, nil
}

// Lookup returns the settings for the named output, falling back to the
// default section. The settings are copied out, the caller never holds a
// reference into the store.
func (s *Store) Lookup(name string) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings, ok := s.outputs[name]; ok {
		return settings
	}

	return s.outputs[DefaultSection]
}

// OutputNames returns the configured section names, default included.
func (s *Store) OutputNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.outputs))
	for name := range s.outputs {
		names = append(names, name)
	}
	return names
}

func parseFile(path string) (map[string]Settings, error) {
	raw := map[string]section{}

	_, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("toml.DecodeFile: %w", err)
	}

	if _, ok := raw[DefaultSection]; !ok {
		return nil, fmt.Errorf("missing [%s] section in %q", DefaultSection, path)
	}

	outputs := make(map[string]Settings, len(raw))
	for name, sec := range raw {
		settings, err := validateSection(sec)
		if err != nil {
			return nil, fmt.Errorf("section [%s]: %w", name, err)
		}
		outputs[name] = settings
	}

	return outputs, nil
}

func validateSection(sec section) (Settings, error) {
	if sec.Path == "" {
		return Settings{}, errors.New("no wallpaper path provided")
	}

	mode, err := ParseMode(sec.Mode)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Path: expandHome(sec.Path),
		Mode: mode,
	}, nil
}

// expandHome resolves a leading "~/" against the current user's home.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
