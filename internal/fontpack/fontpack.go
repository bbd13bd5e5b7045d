// Package fontpack implements spec.md §4.11: a registry of font packs,
// each an archive or directory containing a fontpack.ini that declares one
// or more named font specs (style files plus sizing/rendering tuning).
//
// Grounded on internal/cache's self-registering driver pattern
// (RegisterDriver/NewFromConfig, internal/cache/memory+redis) repointed at
// font-pack sources (archive vs directory) as pluggable loaders, and on
// internal/sitespec's TOML-subset decode discipline for fontpack.ini
// itself. Per-spec decoding uses internal/cfg's mapstructure wrapper
// because a fontpack.ini's tables are keyed by arbitrary spec ids, so they
// must first land in a generic map before becoming a FontSpec.
package fontpack

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/vellum-gemini/vellum/internal/cfg"
)

// Style names the five style slots a font spec may declare.
type Style string

const (
	StyleRegular  Style = "regular"
	StyleItalic   Style = "italic"
	StyleLight    Style = "light"
	StyleSemibold Style = "semibold"
	StyleBold     Style = "bold"
)

var styleOrder = []Style{StyleRegular, StyleItalic, StyleLight, StyleSemibold, StyleBold}

// Styles returns the five style slots in canonical declaration order.
func Styles() []Style {
	out := make([]Style, len(styleOrder))
	copy(out, styleOrder)
	return out
}

// ScaleOverride holds the .ui.*/.doc.* tuning overrides for one rendering
// context.
type ScaleOverride struct {
	Height     float64 `mapstructure:"height"`
	GlyphScale float64 `mapstructure:"glyphscale"`
	VOffset    float64 `mapstructure:"voffset"`
}

// FontSpec is one [spec-id] table from a fontpack.ini, decoded and
// style-resolved.
type FontSpec struct {
	ID       string `mapstructure:"-"`
	Name     string `mapstructure:"name"`
	Priority int    `mapstructure:"priority"`

	Regular  string `mapstructure:"regular"`
	Italic   string `mapstructure:"italic"`
	Light    string `mapstructure:"light"`
	Semibold string `mapstructure:"semibold"`
	Bold     string `mapstructure:"bold"`

	Height     float64 `mapstructure:"height"`
	GlyphScale float64 `mapstructure:"glyphscale"`
	VOffset    float64 `mapstructure:"voffset"`

	UI  *ScaleOverride `mapstructure:"ui"`
	Doc *ScaleOverride `mapstructure:"doc"`

	Override   bool `mapstructure:"override"`
	Monospace  bool `mapstructure:"monospace"`
	Auxiliary  bool `mapstructure:"auxiliary"`
	AllowSpace bool `mapstructure:"allowspace"`
	Tweaks     bool `mapstructure:"tweaks"`

	files map[Style]*FontFile
}

// ApplyDefaults implements cfg.Setter. Numeric/boolean defaults only; the
// style-fallback invariant needs the pre-default Bold value, so it runs
// separately in resolveFiles.
func (s *FontSpec) ApplyDefaults() {
	if s.GlyphScale == 0 {
		s.GlyphScale = 1.0
	}
}

// File returns the resolved font file backing style, or nil if the spec
// hasn't been resolved by a Registry yet.
func (s *FontSpec) File(style Style) *FontFile {
	return s.files[style]
}

// FontFile identifies a font file object shared by every style/spec that
// points at the same (source path, collection index) pair.
type FontFile struct {
	SourcePath      string
	CollectionIndex int
}

// resolveFiles fills unset styles per spec.md §4.11: regular is
// mandatory; every other unset style falls back to regular, except
// semibold, which falls back to bold first (if bold was set explicitly)
// and only then to regular.
func (s *FontSpec) resolveFiles(root string) error {
	if strings.TrimSpace(s.Regular) == "" {
		return fmt.Errorf("fontpack: spec %q does not resolve a regular style", s.ID)
	}
	explicitBold := s.Bold

	resolved := map[Style]string{
		StyleRegular: s.Regular,
		StyleItalic:  orDefault(s.Italic, s.Regular),
		StyleLight:   orDefault(s.Light, s.Regular),
		StyleBold:    orDefault(s.Bold, s.Regular),
	}
	switch {
	case s.Semibold != "":
		resolved[StyleSemibold] = s.Semibold
	case explicitBold != "":
		resolved[StyleSemibold] = explicitBold
	default:
		resolved[StyleSemibold] = s.Regular
	}

	s.files = make(map[Style]*FontFile, len(resolved))
	for style, filename := range resolved {
		path, idx := splitCollectionIndex(filename)
		s.files[style] = &FontFile{SourcePath: filepath.Join(root, path), CollectionIndex: idx}
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// splitCollectionIndex splits a "name.ttf:2" style reference into its
// filename and collection index (0 if no suffix is present).
func splitCollectionIndex(ref string) (string, int) {
	name, idxStr, ok := strings.Cut(ref, ":")
	if !ok {
		return ref, 0
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return ref, 0
	}
	return name, idx
}

// Pack is one loaded fontpack.ini's worth of specs.
type Pack struct {
	SourcePath string
	Kind       string // "archive" or "directory"
	Specs      []*FontSpec
}

// Registry is the process-wide catalog of loaded font packs.
type Registry struct {
	mu       sync.Mutex
	packs    map[string]*Pack // keyed by SourcePath, for Reload
	order    []string         // SourcePath load order
	fileObjs map[FontFile]*FontFile
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		packs:    make(map[string]*Pack),
		fileObjs: make(map[FontFile]*FontFile),
	}
}

// document is fontpack.ini's shape: one table per spec id, plus whatever
// unrecognized keys a newer pack format adds (tolerated, not stored).
type document map[string]map[string]any

// Load parses path (an archive or a directory, detected from its file
// mode) and adds it to the registry, replacing any prior pack loaded from
// the same path.
func (r *Registry) Load(path string) (*Pack, error) {
	kind, loader, err := detectLoader(path)
	if err != nil {
		return nil, err
	}
	src, err := loader(path)
	if err != nil {
		return nil, fmt.Errorf("fontpack: load %s: %w", path, err)
	}

	var doc document
	if _, err := toml.Decode(string(src.iniData), &doc); err != nil {
		return nil, fmt.Errorf("fontpack: decode %s/fontpack.ini: %w", path, err)
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	specs := make([]*FontSpec, 0, len(ids))
	for _, id := range ids {
		spec := &FontSpec{ID: id}
		if err := cfg.Decode(doc[id], spec); err != nil {
			return nil, fmt.Errorf("fontpack: decode spec %q: %w", id, err)
		}
		if err := spec.resolveFiles(path); err != nil {
			return nil, err
		}
		for style, ff := range spec.files {
			if !src.hasFile(ff.SourcePath) {
				return nil, fmt.Errorf("fontpack: spec %q style %q references missing file %s", id, style, ff.SourcePath)
			}
		}
		specs = append(specs, spec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, spec := range specs {
		for style, ff := range spec.files {
			spec.files[style] = r.dedupeLocked(*ff)
		}
	}

	pack := &Pack{SourcePath: path, Kind: kind, Specs: specs}
	if _, existed := r.packs[path]; !existed {
		r.order = append(r.order, path)
	}
	r.packs[path] = pack
	return pack, nil
}

// Reload re-parses a previously loaded pack's source path, replacing its
// specs in place. Equivalent to calling Load again; kept as a distinct,
// more intention-revealing name for the UI action.
func (r *Registry) Reload(path string) (*Pack, error) {
	return r.Load(path)
}

// Remove drops a pack from the registry.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.packs, path)
	for i, p := range r.order {
		if p == path {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) dedupeLocked(ff FontFile) *FontFile {
	if existing, ok := r.fileObjs[ff]; ok {
		return existing
	}
	obj := &FontFile{SourcePath: ff.SourcePath, CollectionIndex: ff.CollectionIndex}
	r.fileObjs[ff] = obj
	return obj
}

// ResolvedSpec pairs a FontSpec with its disambiguated display name
// (spec.md §4.11: same-name specs each get " [id]" appended).
type ResolvedSpec struct {
	*FontSpec
	DisplayName string
}

// List returns every loaded spec, sorted by descending priority then
// case-insensitive name, with same-name specs disambiguated by id.
// includeAuxiliary controls whether auxiliary (fallback-only) specs are
// included.
func (r *Registry) List(includeAuxiliary bool) []ResolvedSpec {
	r.mu.Lock()
	specs := make([]*FontSpec, 0)
	for _, path := range r.order {
		for _, spec := range r.packs[path].Specs {
			if spec.Auxiliary && !includeAuxiliary {
				continue
			}
			specs = append(specs, spec)
		}
	}
	r.mu.Unlock()

	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Priority != specs[j].Priority {
			return specs[i].Priority > specs[j].Priority
		}
		return strings.ToLower(specs[i].Name) < strings.ToLower(specs[j].Name)
	})

	counts := make(map[string]int, len(specs))
	for _, s := range specs {
		counts[strings.ToLower(s.Name)]++
	}

	out := make([]ResolvedSpec, len(specs))
	for i, s := range specs {
		name := s.Name
		if counts[strings.ToLower(s.Name)] > 1 {
			name = fmt.Sprintf("%s [%s]", s.Name, s.ID)
		}
		out[i] = ResolvedSpec{FontSpec: s, DisplayName: name}
	}
	return out
}

// Packs returns a snapshot of every loaded pack, in load order.
func (r *Registry) Packs() []*Pack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pack, 0, len(r.order))
	for _, path := range r.order {
		out = append(out, r.packs[path])
	}
	return out
}
