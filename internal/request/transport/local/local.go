// Package local implements the in-process schemes that never touch the
// network: about: (built-in pages served from internal/resources),
// file: (local filesystem), and data: (RFC 2397 inline data).
package local

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vellum-gemini/vellum/internal/request/transport"
	"github.com/vellum-gemini/vellum/internal/resources"
)

func init() {
	transport.Register("about", func() transport.Fetcher { return &AboutFetcher{} })
	transport.Register("file", func() transport.Fetcher { return &FileFetcher{} })
	transport.Register("data", func() transport.Fetcher { return &DataFetcher{} })
}

// AboutFetcher serves built-in pages from the embedded resource archive
// under about/<path>.gmi.
type AboutFetcher struct{}

// Fetch looks up "about/<path>.gmi" in the embedded resource archive.
func (f *AboutFetcher) Fetch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	name := strings.Trim(req.Path, "/")
	if name == "" {
		name = "help"
	}
	data, err := resources.ReadFile("about/" + name + ".gmi")
	if err != nil {
		return &transport.Response{
			Status: transport.StatusNotFound,
			Meta:   fmt.Sprintf("no built-in page named %q", name),
		}, nil
	}
	return &transport.Response{
		Status: transport.StatusSuccess,
		Meta:   "text/gemini; charset=utf-8",
		Body:   io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// FileFetcher reads files from the local filesystem. Directory listings
// are rendered as a text/gemini link list.
type FileFetcher struct{}

// Fetch opens the local file named by req.Path.
func (f *FileFetcher) Fetch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	path := req.Path
	info, err := os.Stat(path)
	if err != nil {
		return &transport.Response{
			Status: transport.StatusNotFound,
			Meta:   err.Error(),
		}, nil
	}
	if info.IsDir() {
		return f.listDir(path)
	}
	file, err := os.Open(path)
	if err != nil {
		return &transport.Response{
			Status: transport.StatusTempFailure,
			Meta:   err.Error(),
		}, nil
	}
	return &transport.Response{
		Status: transport.StatusSuccess,
		Meta:   guessMIME(path),
		Body:   file,
	}, nil
}

func (f *FileFetcher) listDir(path string) (*transport.Response, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return &transport.Response{Status: transport.StatusTempFailure, Meta: err.Error()}, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Index of %s\n\n", path)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(&sb, "=> %s\n", name)
	}
	return &transport.Response{
		Status: transport.StatusSuccess,
		Meta:   "text/gemini; charset=utf-8",
		Body:   io.NopCloser(strings.NewReader(sb.String())),
	}, nil
}

func guessMIME(path string) string {
	switch {
	case strings.HasSuffix(path, ".gmi") || strings.HasSuffix(path, ".gemini"):
		return "text/gemini; charset=utf-8"
	case strings.HasSuffix(path, ".txt"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm"):
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// DataFetcher decodes RFC 2397 data: URLs inline, with no I/O at all.
type DataFetcher struct{}

// Fetch parses "data:[<mediatype>][;base64],<data>".
func (f *DataFetcher) Fetch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	// req.URL carries the full "data:..." URL verbatim; path/host do not
	// apply to this scheme.
	body := strings.TrimPrefix(req.URL, "data:")
	comma := strings.IndexByte(body, ',')
	if comma < 0 {
		return &transport.Response{Status: transport.StatusBadRequest, Meta: "malformed data: URL"}, nil
	}
	header := body[:comma]
	payload := body[comma+1:]

	mediaType := "text/plain;charset=US-ASCII"
	isBase64 := false
	if header != "" {
		parts := strings.Split(header, ";")
		if parts[0] != "" {
			mediaType = parts[0]
		}
		for _, p := range parts[1:] {
			if p == "base64" {
				isBase64 = true
			} else {
				mediaType += ";" + p
			}
		}
	}

	var decoded []byte
	var err error
	if isBase64 {
		decoded, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var unescaped string
		unescaped, err = unescapePercent(payload)
		decoded = []byte(unescaped)
	}
	if err != nil {
		return &transport.Response{Status: transport.StatusBadRequest, Meta: err.Error()}, nil
	}

	return &transport.Response{
		Status: transport.StatusSuccess,
		Meta:   mediaType,
		Body:   io.NopCloser(bytes.NewReader(decoded)),
	}, nil
}

func unescapePercent(s string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			var v int
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02x", &v); err == nil {
				sb.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String(), nil
}
