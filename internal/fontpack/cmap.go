package fontpack

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vellum-gemini/vellum/internal/request"
)

// CodepointRange is an inclusive Unicode codepoint range, as declared by a
// remote cmap index entry.
type CodepointRange struct {
	Low, High rune
}

func (cr CodepointRange) contains(cp rune) bool { return cp >= cr.Low && cp <= cr.High }

// CmapEntry is one "path: range1 range2 …" line of a remote cmap index.
type CmapEntry struct {
	Path   string
	Ranges []CodepointRange
}

// ParseCmapIndex parses a cmap index document (spec.md §4.11): one entry
// per non-blank, non-comment line, a file path, a colon, then
// whitespace-separated hex ranges ("41-5a" or a single "20"). Malformed
// ranges are skipped rather than failing the whole line.
func ParseCmapIndex(data []byte) ([]CmapEntry, error) {
	var out []CmapEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		path, rangesField, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		var ranges []CodepointRange
		for _, field := range strings.Fields(rangesField) {
			r, err := parseCodepointRange(field)
			if err != nil {
				continue
			}
			ranges = append(ranges, r)
		}
		out = append(out, CmapEntry{Path: strings.TrimSpace(path), Ranges: ranges})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fontpack: scan cmap index: %w", err)
	}
	return out, nil
}

func parseCodepointRange(field string) (CodepointRange, error) {
	lowStr, highStr, hasRange := strings.Cut(field, "-")
	lo, err := strconv.ParseInt(lowStr, 16, 32)
	if err != nil {
		return CodepointRange{}, err
	}
	hi := lo
	if hasRange {
		hi, err = strconv.ParseInt(highStr, 16, 32)
		if err != nil {
			return CodepointRange{}, err
		}
	}
	return CodepointRange{Low: rune(lo), High: rune(hi)}, nil
}

func (e CmapEntry) coversAny(codepoints []rune) bool {
	for _, cp := range codepoints {
		for _, r := range e.Ranges {
			if r.contains(cp) {
				return true
			}
		}
	}
	return false
}

// Fetcher retrieves the bytes at url. SearchCodepoints is transport-
// agnostic; DefaultFetcher supplies the Gemini-backed implementation.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// DefaultFetcher fetches over internal/request's polymorphic pipeline, the
// way the client fetches any other Gemini resource (spec.md §4.11: "the
// client fetches a remote cmap index over Gemini").
func DefaultFetcher(logger *slog.Logger) Fetcher {
	return func(ctx context.Context, url string) ([]byte, error) {
		req := request.New(logger)
		if err := req.SetURL(url); err != nil {
			return nil, fmt.Errorf("fontpack: cmap url: %w", err)
		}
		if err := req.Submit(ctx); err != nil {
			return nil, fmt.Errorf("fontpack: fetch cmap index: %w", err)
		}
		status, _, _, err := req.LockResponse()
		if err != nil {
			return nil, err
		}
		defer req.UnlockResponse()
		if status.Class() != 2 {
			return nil, fmt.Errorf("fontpack: cmap index fetch returned status %d", status)
		}
		body, err := req.Body()
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return io.ReadAll(body)
	}
}

// SearchCodepoints fetches the cmap index at indexURL and returns the
// font file path, as written in the index, of every entry that covers any
// of codepoints; duplicates are not removed.
func SearchCodepoints(ctx context.Context, fetch Fetcher, indexURL string, codepoints []rune) ([]string, error) {
	data, err := fetch(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	entries, err := ParseCmapIndex(data)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, e := range entries {
		if e.coversAny(codepoints) {
			matches = append(matches, e.Path)
		}
	}
	return matches, nil
}

// MatchingPacks returns the distinct loaded packs that declare a font
// file whose basename appears in matches (as returned by
// SearchCodepoints), i.e. "which packs contain any of the requested
// codepoints" (spec.md §4.11).
func (r *Registry) MatchingPacks(matches []string) []*Pack {
	want := make(map[string]bool, len(matches))
	for _, m := range matches {
		want[filepath.Base(m)] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Pack
	seen := make(map[string]bool)
	for _, path := range r.order {
		pack := r.packs[path]
		if seen[pack.SourcePath] {
			continue
		}
		for _, spec := range pack.Specs {
			matched := false
			for _, ff := range spec.files {
				if want[filepath.Base(ff.SourcePath)] {
					matched = true
					break
				}
			}
			if matched {
				out = append(out, pack)
				seen[pack.SourcePath] = true
				break
			}
		}
	}
	return out
}
