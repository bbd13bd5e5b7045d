// Package urlutil implements spec.md §4.1: URL parsing, canonicalization,
// Punycode host encoding, percent-encoding/decoding with exclusion sets,
// root extraction, and absoluteization.
//
// Grounded on internal/platform/hostport.Normalize's scheme-aware default
// port stripping and internal/platform/instanceid's scheme/host lowercasing,
// generalized here from "HTTP authority normalization" to "any-scheme URL
// canonicalization".
package urlutil

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// URL is a parsed small-Internet URL: scheme, userinfo, host, port, path,
// query. Host is stored IDN-decoded for display; use Canonical to obtain
// the Punycode-on-the-wire form.
type URL struct {
	Scheme   string
	Userinfo string
	Host     string // IDN-decoded (display form)
	Port     string // empty means "use scheme default"
	Path     string
	Query    string
	Fragment string
}

var defaultPorts = map[string]string{
	"gemini": "1965",
	"titan":  "1965",
	"gopher": "70",
	"finger": "79",
	"spartan": "300",
	"guppy":  "1965",
}

// Parse parses a syntactically reasonable small-Internet or local-scheme
// URL. It does not canonicalize; call Canonical for that.
func Parse(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("urlutil: empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("urlutil: parse %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("urlutil: %q has no scheme", raw)
	}

	out := &URL{
		Scheme:   strings.ToLower(u.Scheme),
		Path:     u.Path,
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}
	if u.User != nil {
		out.Userinfo = u.User.String()
	}
	host, err := decodeHost(u.Hostname())
	if err != nil {
		return nil, err
	}
	out.Host = host
	out.Port = u.Port()
	return out, nil
}

func decodeHost(host string) (string, error) {
	if host == "" {
		return "", nil
	}
	d, err := idna.ToUnicode(host)
	if err != nil {
		// not all hosts are IDNA-valid (e.g. bare IPs); keep as-is.
		return host, nil
	}
	return d, nil
}

// PunycodeHost returns the ASCII/Punycode form of the URL's host, suitable
// for the wire.
func (u *URL) PunycodeHost() (string, error) {
	if u.Host == "" {
		return "", nil
	}
	a, err := idna.ToASCII(u.Host)
	if err != nil {
		return "", fmt.Errorf("urlutil: punycode-encode %q: %w", u.Host, err)
	}
	return strings.ToLower(a), nil
}

// EffectivePort returns Port, or the scheme's default if Port is empty.
func (u *URL) EffectivePort() string {
	if u.Port != "" {
		return u.Port
	}
	return defaultPorts[u.Scheme]
}

// IsDefaultPort reports whether Port equals (or is empty and thus implies)
// the scheme's default port.
func (u *URL) IsDefaultPort() bool {
	if u.Port == "" {
		return true
	}
	return u.Port == defaultPorts[u.Scheme]
}

// Canonical returns the canonicalization contract from spec.md §4.1:
//   - scheme and host lower-cased
//   - host Punycode-encoded
//   - default port elided
//   - empty path normalized to "/" for gemini:
//   - already-percent-encoded octets preserved bit-for-bit (Path/Query are
//     copied verbatim; only case-folding of scheme/host happens here)
func (u *URL) Canonical() (*URL, error) {
	host, err := u.PunycodeHost()
	if err != nil {
		return nil, err
	}
	c := &URL{
		Scheme:   strings.ToLower(u.Scheme),
		Userinfo: u.Userinfo,
		Host:     host,
		Path:     u.Path,
		Query:    u.Query,
		Fragment: u.Fragment,
	}
	if !u.IsDefaultPort() {
		c.Port = u.Port
	}
	if c.Scheme == "gemini" && c.Path == "" {
		c.Path = "/"
	}
	return c, nil
}

// String reassembles the URL. Canonical URLs round-trip through String and
// Parse to an equal value (idempotence, spec.md §8.1).
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.Userinfo != "" {
		b.WriteString(u.Userinfo)
		b.WriteByte('@')
	}
	host := u.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	b.WriteString(host)
	if u.Port != "" {
		b.WriteByte(':')
		b.WriteString(u.Port)
	}
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// Canon is a convenience one-shot: parse then canonicalize then stringify.
func Canon(raw string) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	c, err := u.Canonical()
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// StripDefaultPort removes an explicit port equal to the scheme's default.
func (u *URL) StripDefaultPort() {
	if u.IsDefaultPort() {
		u.Port = ""
	}
}

// StripFragment returns a copy of u with Fragment cleared.
func (u *URL) StripFragment() *URL {
	c := *u
	c.Fragment = ""
	return &c
}

// Root returns "scheme://host[:port]/first-path-segment", per spec.md
// §4.1's root-extraction contract.
func (u *URL) Root() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	if !u.IsDefaultPort() && u.Port != "" {
		b.WriteByte(':')
		b.WriteString(u.Port)
	}
	seg := firstPathSegment(u.Path)
	if seg != "" {
		b.WriteByte('/')
		b.WriteString(seg)
	}
	return b.String()
}

func firstPathSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return ""
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// Absoluteize resolves ref against base, matching net/url.ResolveReference
// semantics but operating on Vellum's URL type and preserving percent
// encodings already present in ref.
func Absoluteize(base *URL, ref string) (*URL, error) {
	baseU, err := url.Parse(base.String())
	if err != nil {
		return nil, err
	}
	refU, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("urlutil: absoluteize %q: %w", ref, err)
	}
	resolved := baseU.ResolveReference(refU)
	return Parse(resolved.String())
}

// unreserved are octets that never need percent-encoding.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// PercentEncode encodes every byte not in unreserved and not in exclude.
// Bytes already expressed as "%XX" are passed through only if the caller
// includes '%' in exclude (percent-decode first otherwise).
func PercentEncode(s string, exclude string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 || strings.IndexByte(exclude, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// PercentDecode decodes %XX sequences, leaving malformed sequences intact.
func PercentDecode(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String(), nil
}

// EncodeNonASCIIPath percent-encodes non-reserved, non-ASCII bytes in a path
// while preserving any octet sequence already written as %XX (spec.md
// §4.6's set_url contract).
func EncodeNonASCIIPath(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '%' && i+2 < len(path) && isHex(path[i+1]) && isHex(path[i+2]) {
			b.WriteByte(c)
			continue
		}
		if c < 0x80 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
