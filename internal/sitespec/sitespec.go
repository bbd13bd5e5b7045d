// Package sitespec implements spec.md §4.12: a per-origin key/value store
// (titanPort, dismissWarnings, paletteSeed, titanIdentity, usedIdentities,
// tlsSessionCache) persisted in the TOML-subset "sitespec.ini" format.
//
// Grounded on internal/config/config.go's BurntSushi/toml decode/encode
// usage and internal/store/json/json.go's atomic-write discipline.
package sitespec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Spec holds the per-origin settings. Zero values mean "unset / default".
type Spec struct {
	TitanPort       int      `toml:"titanPort,omitempty"`
	DismissWarnings int      `toml:"dismissWarnings,omitempty"`
	PaletteSeed     string   `toml:"paletteSeed,omitempty"`
	TitanIdentity   string   `toml:"titanIdentity,omitempty"` // fingerprint
	UsedIdentities  []string `toml:"usedIdentities,omitempty"`
	TLSSessionCache []byte   `toml:"tlsSessionCache,omitempty"`
}

// document is the on-disk shape: one table per origin, keyed by
// lower(url_root).
type document struct {
	Origins map[string]Spec `toml:"origin"`
}

// Store is a mutex-guarded collection of per-origin specs.
type Store struct {
	mu      sync.Mutex
	path    string
	origins map[string]*Spec
}

// New creates an empty store; call Load to populate it from disk.
func New(path string) *Store {
	return &Store{path: path, origins: make(map[string]*Spec)}
}

func originKey(urlRoot string) string {
	return strings.ToLower(urlRoot)
}

// Load parses the TOML-subset file. A missing file is not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sitespec: read %s: %w", s.path, err)
	}

	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return fmt.Errorf("sitespec: decode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for origin, spec := range doc.Origins {
		specCopy := spec
		s.origins[origin] = &specCopy
	}
	return nil
}

// Save atomically persists the store (temp file + rename, spec.md §5).
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{Origins: make(map[string]Spec, len(s.origins))}
	for origin, spec := range s.origins {
		doc.Origins[origin] = *spec
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("sitespec: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("sitespec: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("sitespec: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sitespec: rename: %w", err)
	}
	return nil
}

// Get returns a copy of the spec for urlRoot, or the zero value if unset.
func (s *Store) Get(urlRoot string) Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec, ok := s.origins[originKey(urlRoot)]; ok {
		return *spec
	}
	return Spec{}
}

// Set overwrites the spec for urlRoot.
func (s *Store) Set(urlRoot string, spec Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	specCopy := spec
	s.origins[originKey(urlRoot)] = &specCopy
}

// Update applies fn to the spec for urlRoot (creating it if absent) and
// stores the result.
func (s *Store) Update(urlRoot string, fn func(*Spec)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := originKey(urlRoot)
	spec, ok := s.origins[key]
	if !ok {
		spec = &Spec{}
		s.origins[key] = spec
	}
	fn(spec)
}

// AddUsedIdentity appends a fingerprint to the origin's used-identities
// list if not already present.
func (s *Store) AddUsedIdentity(urlRoot, fingerprint string) {
	s.Update(urlRoot, func(spec *Spec) {
		for _, fp := range spec.UsedIdentities {
			if fp == fingerprint {
				return
			}
		}
		spec.UsedIdentities = append(spec.UsedIdentities, fingerprint)
	})
}

// Delete removes the spec for urlRoot, if present.
func (s *Store) Delete(urlRoot string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.origins, originKey(urlRoot))
}

// Count returns the number of origins with a stored spec.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.origins)
}

// Path returns the file this store persists to.
func (s *Store) Path() string {
	return s.path
}

// All returns a snapshot of every origin's spec, keyed as stored.
func (s *Store) All() map[string]Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Spec, len(s.origins))
	for k, v := range s.origins {
		out[k] = *v
	}
	return out
}

// Clear removes every origin's spec, used by a bundle "replace" import.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origins = make(map[string]*Spec)
}
