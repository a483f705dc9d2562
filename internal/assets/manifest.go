// Package assets loads the game's media from a manifest, substituting
// fallbacks for anything that fails to load.
package assets

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

//go:embed default.hcl
var defaultManifest []byte

// Kind distinguishes images from sounds.
type Kind string

const (
	KindImage Kind = "image"
	KindSound Kind = "sound"
)

// ImageSpec declares one image.
type ImageSpec struct {
	Name     string `hcl:"name,label"`
	Path     string `hcl:"path"`
	Fallback string `hcl:"fallback,optional"`
}

// SoundSpec declares one sound.
type SoundSpec struct {
	Name     string  `hcl:"name,label"`
	Path     string  `hcl:"path"`
	Volume   float64 `hcl:"volume,optional"`
	Loop     bool    `hcl:"loop,optional"`
	Fallback string  `hcl:"fallback,optional"`
}

// Manifest is the fixed list of media a game needs.
type Manifest struct {
	Images []*ImageSpec `hcl:"image,block"`
	Sounds []*SoundSpec `hcl:"sound,block"`
}

// entry is the kind-agnostic view the loader works with.
type entry struct {
	name     string
	path     string
	fallback string
	kind     Kind
	volume   float64
	loop     bool
}

func (m *Manifest) entries() []entry {
	out := make([]entry, 0, len(m.Images)+len(m.Sounds))
	for _, img := range m.Images {
		out = append(out, entry{name: img.Name, path: img.Path, fallback: img.Fallback, kind: KindImage})
	}
	for _, snd := range m.Sounds {
		vol := snd.Volume
		if vol == 0 {
			vol = 1
		}
		out = append(out, entry{name: snd.Name, path: snd.Path, fallback: snd.Fallback, kind: KindSound, volume: vol, loop: snd.Loop})
	}
	return out
}

// Len returns the number of declared resources.
func (m *Manifest) Len() int { return len(m.Images) + len(m.Sounds) }

// Validate checks names are unique and every fallback names a declared
// resource of the same kind without forming a cycle.
func (m *Manifest) Validate() error {
	byName := make(map[string]entry)
	for _, e := range m.entries() {
		if e.name == "" {
			return fmt.Errorf("assets: resource with empty name")
		}
		if e.path == "" {
			return fmt.Errorf("assets: %s %q has no path", e.kind, e.name)
		}
		if _, dup := byName[e.name]; dup {
			return fmt.Errorf("assets: duplicate resource %q", e.name)
		}
		byName[e.name] = e
	}
	for name, e := range byName {
		seen := map[string]bool{name: true}
		for cur := e; cur.fallback != ""; {
			next, ok := byName[cur.fallback]
			if !ok {
				return fmt.Errorf("assets: %q falls back to unknown resource %q", cur.name, cur.fallback)
			}
			if next.kind != e.kind {
				return fmt.Errorf("assets: %q falls back to %s %q", e.name, next.kind, next.name)
			}
			if seen[next.name] {
				return fmt.Errorf("assets: fallback cycle through %q", next.name)
			}
			seen[next.name] = true
			cur = next
		}
	}
	return nil
}

// ParseManifest decodes and validates an HCL manifest.
func ParseManifest(src []byte, filename string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("assets: parse manifest %s: %w", filename, diags)
	}
	var m Manifest
	if diags := gohcl.DecodeBody(file.Body, nil, &m); diags.HasErrors() {
		return nil, fmt.Errorf("assets: decode manifest %s: %w", filename, diags)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFile reads a manifest from disk.
func LoadManifestFile(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assets: read manifest: %w", err)
	}
	return ParseManifest(src, path)
}

// DefaultManifest returns the built-in manifest.
func DefaultManifest() *Manifest {
	m, err := ParseManifest(defaultManifest, "default.hcl")
	if err != nil {
		panic(fmt.Sprintf("assets: embedded manifest invalid: %v", err))
	}
	return m
}
