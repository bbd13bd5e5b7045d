// Package transport defines the pluggable per-scheme fetcher interface and
// registry that internal/request dispatches through, plus the shared
// Response/header types every fetcher produces.
//
// Grounded on internal/cache's DriverFactory registry pattern
// (self-registering via init(), looked up by name at dispatch time).
package transport

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"sync"
)

// Status is the two-digit Gemini-family response status. Non-Gemini
// schemes map their own status spaces onto it (see each transport's
// doc comment).
type Status int

const (
	StatusInput          Status = 10
	StatusSensitiveInput Status = 11
	StatusSuccess        Status = 20
	StatusRedirectTemp   Status = 30
	StatusRedirectPerm   Status = 31
	StatusTempFailure    Status = 40
	StatusServerUnavail  Status = 41
	StatusCGIError       Status = 42
	StatusProxyError     Status = 43
	StatusSlowDown       Status = 44
	StatusPermFailure    Status = 50
	StatusNotFound       Status = 51
	StatusGone           Status = 52
	StatusProxyRefused   Status = 53
	StatusBadRequest     Status = 59
	StatusCertRequired   Status = 60
	StatusCertNotAuth    Status = 61
	StatusCertInvalid    Status = 62
)

// Class reports the first digit of a status, which governs how the
// request pipeline's state machine reacts (spec.md §4.6).
func (s Status) Class() int { return int(s) / 10 }

// Response is what a Fetcher produces for a completed (or failed)
// request. Body is only valid while the request is locked open
// (spec.md §4.6 lock_response/unlock_response); Bytes is filled in once
// the body has been fully read and the request finishes.
type Response struct {
	Status       Status
	Meta         string // MIME type on 2x, prompt on 1x, redirect target on 3x, error message on 4x/5x/6x
	Body         io.ReadCloser
	Bytes        []byte
	PeerCertFP   []byte // TOFU fingerprint of the server's certificate, if any
	IdentityUsed []byte // fingerprint of the client identity presented, if any
}

// Request carries everything a Fetcher needs to perform one fetch. It is
// scheme-agnostic; individual fetchers interpret the fields relevant to
// their protocol and ignore the rest.
type Request struct {
	URL        string
	Host       string
	Port       int
	Path       string
	Query      string
	Identity   *IdentityMaterial
	UploadData []byte // titan and spartan
	UploadMIME string // titan only
	ProxyURL   string // explicit upstream proxy, if configured for this scheme
	VerifyPeer func(host string, port int, cert *x509.Certificate, caAnchored bool) bool

	// DialContext overrides how a TCP fetcher dials its remote address,
	// e.g. to resolve through internal/request/resolver instead of the OS
	// stub resolver. nil means "use a plain net.Dialer".
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// IdentityMaterial is the subset of an identity a transport needs to
// present a client certificate; it has no dependency on internal/identity
// to avoid an import cycle.
type IdentityMaterial struct {
	Cert       *x509.Certificate
	PrivateKey any // concrete *rsa.PrivateKey, boxed to avoid a crypto/rsa import here
	Raw        []byte
}

// Fetcher performs one request for a single scheme.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFactory builds a Fetcher from nothing; most fetchers are
// stateless, so this is usually just a constructor reference.
type FetcherFactory func() Fetcher

var (
	registryMu sync.RWMutex
	registry   = make(map[string]FetcherFactory)
)

// Register adds a fetcher factory under scheme (e.g. "gemini", "titan").
// Call from an init() in the scheme's package, mirroring
// internal/cache.RegisterDriver.
func Register(scheme string, factory FetcherFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = factory
}

// Lookup returns a fresh Fetcher for scheme, if one is registered.
func Lookup(scheme string) (Fetcher, error) {
	registryMu.RLock()
	factory, ok := registry[scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no fetcher registered for scheme %q", scheme)
	}
	return factory(), nil
}

// Schemes returns the set of currently registered scheme names.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
