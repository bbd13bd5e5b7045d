// Package cfg decodes loosely-typed config maps (as produced by a TOML
// decode into map[string]any) into typed structs, for config shapes whose
// table names or key sets aren't known ahead of time.
//
// Grounded on internal/services/cfg's mapstructure decoder with a Setter
// interface for post-decode defaults.
package cfg

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Setter lets a target struct apply defaults after Decode populates it.
type Setter interface {
	ApplyDefaults()
}

// Decode decodes input into c (a pointer), calling ApplyDefaults if c
// implements Setter.
func Decode(input map[string]any, c any) error {
	_, err := decode(input, c, nil)
	return err
}

// DecodeWithUnused decodes input into c and also returns the sorted list
// of input keys that had no matching field in c.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	unused, err := decode(input, c, &md)
	if err != nil {
		return nil, err
	}
	return unused, nil
}

func decode(input map[string]any, c any, md *mapstructure.Metadata) ([]string, error) {
	config := &mapstructure.DecoderConfig{
		Metadata:         md,
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, fmt.Errorf("cfg: build decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return nil, fmt.Errorf("cfg: decode: %w", err)
	}
	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	if md == nil {
		return nil, nil
	}
	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}
