package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"

	"github.com/devicetree-tools/dtbuild/internal/util"
)

// Internal configuration data structures for dtbuild.

// Root is the top-level configuration structure used by dtbuild. Package
// names are the map keys; they are injected into the Package values during
// unmarshaling.
type Root struct {
	Packages map[string]*Package `json:"packages,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root
// struct. This lets us declare device-tree packages as a mapping where keys
// are the package names.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (*Root) unmarshal(raw *Root) error {
	for name := range raw.Packages {
		raw.Packages[name] = cmp.Or(raw.Packages[name], &Package{})
		raw.Packages[name].Name = name
		raw.Packages[name].setDefaults()
	}
	return nil
}

// SortedPackages returns the configured packages in name order, for
// deterministic build scheduling and listings.
func (r *Root) SortedPackages() []*Package {
	names := make([]string, 0, len(r.Packages))
	for name := range r.Packages {
		names = append(names, name)
	}
	slices.Sort(names)

	pkgs := make([]*Package, len(names))
	for i, name := range names {
		pkgs[i] = r.Packages[name]
	}
	return pkgs
}

// Package configures one device-tree build: a base DTB set established
// either from a DTS source to compile or from a directory of pre-built
// blobs, plus an ordered list of overlays applied on top.
type Package struct {
	Name    string `json:"-"`
	Enabled bool   `json:"enabled,omitempty"`

	// KernelDir points at the installed kernel tree. It provides the default
	// DTB source directory and the first preprocessor include path for DTS
	// compilation.
	KernelDir string `json:"kernel_dir"`

	// DtsSource, when present, takes precedence over DtbSourceDir for
	// establishing the base DTB set. Filter is silently ignored on this
	// branch; filtering is defined only for pre-built source directories.
	DtsSource *DtsSource `json:"dts_source,omitempty"`

	// DtbSourceDir is the directory of pre-built DTBs. Defaults to
	// <kernel_dir>/dtbs.
	DtbSourceDir string `json:"dtb_source_dir,omitempty"`

	// OutputName overrides the name of the produced package directory.
	// Defaults to the package name.
	OutputName string `json:"output_name,omitempty"`

	// Filter restricts the base DTB set to files whose path relative to
	// DtbSourceDir matches the glob.
	Filter string `json:"filter,omitempty"`

	Overlays []Overlay `json:"overlays,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (p *Package) UnmarshalYAML(bs []byte) error {
	type rawPackage Package // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawPackage

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode package: %w", err)
	}

	*p = Package(raw)
	return p.validate()
}

func (p *Package) UnmarshalJSON(bs []byte) error {
	type rawPackage Package
	var raw rawPackage

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode package: %w", err)
	}

	*p = Package(raw)
	return p.validate()
}

func (p *Package) validate() error {
	if p.Filter != "" {
		if _, err := glob.Compile(p.Filter); err != nil {
			return fmt.Errorf("failed to compile filter pattern %q: %w", p.Filter, err)
		}
	}

	for i := range p.Overlays {
		if f := p.Overlays[i].Filter; f != "" {
			if _, err := glob.Compile(f); err != nil {
				return fmt.Errorf("failed to compile overlay filter pattern %q: %w", f, err)
			}
		}
	}

	return nil
}

func (p *Package) setDefaults() {
	if p.DtbSourceDir == "" && p.KernelDir != "" {
		p.DtbSourceDir = filepath.Join(p.KernelDir, "dtbs")
	}
	if p.OutputName == "" {
		p.OutputName = p.Name
	}
}

func (p *Package) Equal(other *Package) bool {
	return util.FastEqual(p, other, func(p, other *Package) bool {
		return p.Name == other.Name &&
			p.Enabled == other.Enabled &&
			p.KernelDir == other.KernelDir &&
			p.DtsSource.Equal(other.DtsSource) &&
			p.DtbSourceDir == other.DtbSourceDir &&
			p.OutputName == other.OutputName &&
			p.Filter == other.Filter &&
			slices.EqualFunc(p.Overlays, other.Overlays, Overlay.Equal)
	})
}

// BuildFlags is shared by DTS sources and overlays. Both sequences are
// order-preserving; flags and paths are handed to the compiler in declared
// order.
type BuildFlags struct {
	ExtraPreprocessorFlags []string `json:"extra_preprocessor_flags,omitempty"`
	ExtraIncludePaths      []string `json:"extra_include_paths,omitempty"`
}

func (f BuildFlags) Equal(other BuildFlags) bool {
	return slices.Equal(f.ExtraPreprocessorFlags, other.ExtraPreprocessorFlags) &&
		slices.Equal(f.ExtraIncludePaths, other.ExtraIncludePaths)
}

// DtsSource describes a device-tree source to compile into the single base
// DTB. Name doubles as the output blob's base filename, <name>.dtb.
type DtsSource struct {
	Name string `json:"name"`

	// DtsFile takes precedence over DtsText when both are set; DtsText is
	// ignored in that case, not rejected.
	DtsFile string `json:"dts_file,omitempty"`
	DtsText string `json:"dts_text,omitempty"`

	BuildFlags `json:",inline"`

	_ struct{} `additionalProperties:"false"`
}

func (s *DtsSource) UnmarshalYAML(bs []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode dts_source: %w", err)
	}
	return s.decode(raw)
}

func (s *DtsSource) UnmarshalJSON(bs []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode dts_source: %w", err)
	}
	return s.decode(raw)
}

func (s *DtsSource) decode(raw map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Squash:      true,
		ErrorUnused: true,
		Result:      s,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode dts_source: %w", err)
	}
	return nil
}

func (s *DtsSource) Equal(other *DtsSource) bool {
	return util.FastEqual(s, other, func(s, other *DtsSource) bool {
		return s.Name == other.Name &&
			s.DtsFile == other.DtsFile &&
			s.DtsText == other.DtsText &&
			s.BuildFlags.Equal(other.BuildFlags)
	})
}

// Overlay is a named, orderable device-tree patch. How the DTBO is
// materialized follows a fixed precedence: DtboFile if set (no compilation),
// else DtsFile, else DtsText. An overlay with none of the three is invalid.
//
// In YAML an overlay is either a mapping or a bare path string; the latter
// is shorthand for a pre-compiled blob and coerced to
// {name: basename(path), dtbo_file: path}.
type Overlay struct {
	Name string `json:"name"`

	// Filter restricts application to base files whose name matches the
	// glob. Empty means the overlay applies to every base file.
	Filter string `json:"filter,omitempty"`

	DtsFile  string `json:"dts_file,omitempty"`
	DtsText  string `json:"dts_text,omitempty"`
	DtboFile string `json:"dtbo_file,omitempty"`

	BuildFlags `json:",inline"`

	_ struct{} `additionalProperties:"false"`
}

func (o *Overlay) UnmarshalYAML(bs []byte) error {
	var path string
	if err := yaml.Unmarshal(bs, &path); err == nil {
		*o = overlayFromPath(path)
		return nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("expected overlay mapping or path: %w", err)
	}

	return o.decode(raw)
}

func (o *Overlay) UnmarshalJSON(bs []byte) error {
	var path string
	if err := json.Unmarshal(bs, &path); err == nil {
		*o = overlayFromPath(path)
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("expected overlay mapping or path: %w", err)
	}

	return o.decode(raw)
}

// decode maps the mapping form onto the struct, rejecting unknown keys so
// typos in overlay declarations surface at parse time.
func (o *Overlay) decode(raw map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Squash:      true,
		ErrorUnused: true,
		Result:      o,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode overlay: %w", err)
	}
	return nil
}

func overlayFromPath(path string) Overlay {
	return Overlay{
		Name:     filepath.Base(path),
		DtboFile: path,
	}
}

// Precompiled returns true if the overlay carries a pre-built blob and never
// needs the compiler.
func (o *Overlay) Precompiled() bool {
	return o.DtboFile != ""
}

// Materializable returns true if the overlay has at least one way to produce
// a DTBO.
func (o *Overlay) Materializable() bool {
	return o.DtboFile != "" || o.DtsFile != "" || o.DtsText != ""
}

func (o Overlay) Equal(other Overlay) bool {
	return o.Name == other.Name &&
		o.Filter == other.Filter &&
		o.DtsFile == other.DtsFile &&
		o.DtsText == other.DtsText &&
		o.DtboFile == other.DtboFile &&
		o.BuildFlags.Equal(other.BuildFlags)
}

// Validate checks raw config bytes against the embedded JSON schema without
// unmarshaling into the typed structures.
func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

func ParseFile(filename string) (*Root, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &root, nil
}
