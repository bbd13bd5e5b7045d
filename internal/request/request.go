// Package request implements spec.md §4.6: the polymorphic, multi-protocol
// request state machine that every scheme fetcher feeds into.
//
// Grounded on internal/components/ocm/outboundsigning's
// chain-of-responsibility shape for observer dispatch and
// internal/platform/http/client/client.go's per-request lifecycle,
// generalized from a single HTTP round trip to a long-lived, observable,
// cancelable multi-protocol fetch.
package request

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vellum-gemini/vellum/internal/logging"
	"github.com/vellum-gemini/vellum/internal/request/transport"
	"github.com/vellum-gemini/vellum/internal/urlutil"
)

// bodyReadChunk is the buffer size used when streaming a response body
// into its owned buffer; each successful Read posts a coalesced updated
// notification (spec.md §4.6, "bytes after the header are appended to
// the body blob and an updated notification is posted").
const bodyReadChunk = 32 * 1024

// FilterResult is what a FilterFunc returns when it replaces a
// response's status/meta/body, mirroring internal/mimehooks.Result
// without this package importing internal/mimehooks directly.
type FilterResult struct {
	Status int
	Meta   string
	Body   []byte
}

// FilterFunc runs the mime-hook filter chain (spec.md §4.8) against a
// completed response body. A nil result means no hook matched or
// produced usable output, so the unfiltered body is kept.
type FilterFunc func(ctx context.Context, mime string, body []byte, requestURL string) (*FilterResult, error)

// CacheStore is the subset of internal/cache.Cache the request pipeline
// needs to cache a completed response body by canonical URL, defined
// locally so this package doesn't import internal/cache directly.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// State is the request's position in spec.md §4.6's lifecycle.
type State int

const (
	StateInitialized State = iota
	StateReceivingHeader
	StateReceivingBody
	StateFinished
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateReceivingHeader:
		return "receiving_header"
	case StateReceivingBody:
		return "receiving_body"
	case StateFinished:
		return "finished"
	case StateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// FailureKind classifies a terminal failure for display/retry logic
// (spec.md §4.6/§7).
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureCertExpired
	FailureCertUnverified
	FailureTLS
	FailureIncompleteHeader
	FailureNetwork
	FailureUnsupportedScheme
)

var (
	ErrNoURL      = errors.New("request: no URL set")
	ErrNotLocked  = errors.New("request: response is not locked")
	ErrNotFailure = errors.New("request: request did not fail")
)

// VerifyFunc decides whether a server's TLS certificate is trusted for a
// given host/port, mirroring internal/trust.Store.CheckTrust without this
// package depending on internal/trust directly.
type VerifyFunc func(host string, port int, cert *x509.Certificate, caAnchored bool) bool

// Identity is the minimal client-certificate material a Request can
// present, mirroring internal/identity.Identity without an import cycle.
type Identity struct {
	Cert       *x509.Certificate
	PrivateKey any
	Raw        []byte
}

// Request is one in-flight (or completed) fetch. A Request is used once;
// callers build a new one per navigation.
type Request struct {
	mu       sync.Mutex
	url      string
	parsed   *urlutil.URL
	identity *Identity
	upload   []byte
	uploadMIME string
	proxyURL string
	verify   VerifyFunc
	filter   FilterFunc
	cache    CacheStore

	state        State
	failureKind  FailureKind
	err          error
	response     *transport.Response
	responseLock int // >0 while lock_response holders exist; body reads blocked otherwise

	updated  chan struct{}
	finished chan struct{}
	finishOnce sync.Once

	cancel context.CancelFunc
	logger *slog.Logger
}

// New creates a request in the Initialized state.
func New(logger *slog.Logger) *Request {
	return &Request{
		state:    StateInitialized,
		updated:  make(chan struct{}, 1),
		finished: make(chan struct{}),
		logger:   logging.NoopIfNil(logger),
	}
}

// SetURL sets (or replaces, before Submit) the request's target URL.
func (r *Request) SetURL(raw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateInitialized {
		return fmt.Errorf("request: cannot set URL after submission")
	}
	u, err := urlutil.Parse(raw)
	if err != nil {
		return fmt.Errorf("request: parse URL: %w", err)
	}
	canon, err := u.Canonical()
	if err != nil {
		return fmt.Errorf("request: canonicalize URL: %w", err)
	}
	r.url = canon.String()
	r.parsed = canon
	return nil
}

// SetIdentity attaches a client identity to present during the TLS
// handshake (gemini/titan only).
func (r *Request) SetIdentity(id *Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity = id
}

// SetUpload attaches a Titan upload payload and its MIME type.
func (r *Request) SetUpload(data []byte, mime string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upload = data
	r.uploadMIME = mime
}

// SetProxy records an upstream proxy URL, handed to the fetcher as
// transport.Request.ProxyURL. None of the registered fetchers reads that
// field, so it does not change how they connect.
func (r *Request) SetProxy(proxyURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxyURL = proxyURL
}

// SetVerifyFunc installs the TOFU verification callback consulted during
// the TLS handshake.
func (r *Request) SetVerifyFunc(fn VerifyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verify = fn
}

// SetFilterFunc installs the mime-hook filter chain (spec.md §4.8) run
// against the completed response body before the request finishes.
func (r *Request) SetFilterFunc(fn FilterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = fn
}

// SetCache installs the response cache consulted before dispatching and
// populated once a successful response body has been read (spec.md's
// "Response cache + progress" component). A cache hit short-circuits the
// network fetch entirely.
func (r *Request) SetCache(c CacheStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = c
}

// URL returns the request's canonical URL.
func (r *Request) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// State returns the request's current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Updated returns a channel that receives a (coalesced) notification
// whenever the request's observable state changes.
func (r *Request) Updated() <-chan struct{} { return r.updated }

// Finished returns a channel that is closed exactly once, when the
// request reaches StateFinished or StateFailure.
func (r *Request) Finished() <-chan struct{} { return r.finished }

func (r *Request) notifyUpdated() {
	select {
	case r.updated <- struct{}{}:
	default:
	}
}

func (r *Request) notifyFinished() {
	r.finishOnce.Do(func() { close(r.finished) })
}

func (r *Request) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.notifyUpdated()
}

// Submit dispatches the request to the registered fetcher for its scheme
// and runs it to completion (or cancellation) in the current goroutine.
// Callers that want asynchronous behavior should run Submit in its own
// goroutine and observe Updated/Finished.
func (r *Request) Submit(ctx context.Context) error {
	r.mu.Lock()
	if r.url == "" {
		r.mu.Unlock()
		return ErrNoURL
	}
	if r.state != StateInitialized {
		r.mu.Unlock()
		return fmt.Errorf("request: already submitted")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	parsed := r.parsed
	identity := r.identity
	upload := r.upload
	uploadMIME := r.uploadMIME
	proxyURL := r.proxyURL
	verify := r.verify
	rawURL := r.url
	r.mu.Unlock()

	r.setState(StateReceivingHeader)

	r.mu.Lock()
	cacheStore := r.cache
	filter := r.filter
	r.mu.Unlock()

	cacheable := cacheStore != nil && len(upload) == 0
	if cacheable {
		if status, meta, body, ok := r.loadCached(ctx, cacheStore, rawURL); ok {
			r.finish(status, meta, body)
			return nil
		}
	}

	fetcher, err := transport.Lookup(parsed.Scheme)
	if err != nil {
		return r.fail(FailureUnsupportedScheme, err)
	}

	port := 0
	if parsed.Port != "" {
		fmt.Sscanf(parsed.Port, "%d", &port)
	}

	var identMaterial *transport.IdentityMaterial
	if identity != nil {
		identMaterial = &transport.IdentityMaterial{
			Cert:       identity.Cert,
			PrivateKey: identity.PrivateKey,
			Raw:        identity.Raw,
		}
	}

	tReq := &transport.Request{
		URL:        rawURL,
		Host:       parsed.Host,
		Port:       port,
		Path:       parsed.Path,
		Query:      parsed.Query,
		Identity:   identMaterial,
		UploadData: upload,
		UploadMIME: uploadMIME,
		ProxyURL:   proxyURL,
		VerifyPeer: verify,
	}

	resp, err := fetcher.Fetch(ctx, tReq)
	if err != nil {
		return r.fail(classifyFailure(err), err)
	}

	r.mu.Lock()
	r.response = resp
	r.state = StateReceivingBody
	r.mu.Unlock()
	r.notifyUpdated()

	body, err := r.streamBody(ctx, resp)
	if err != nil {
		return r.fail(FailureNetwork, err)
	}

	status, meta := resp.Status, resp.Meta
	if filter != nil && status.Class() == 2 {
		if result, ferr := filter(ctx, meta, body, rawURL); ferr == nil && result != nil {
			status = transport.Status(result.Status)
			meta = result.Meta
			body = result.Body
		}
	}

	if cacheable && status.Class() == 2 {
		r.storeCached(ctx, cacheStore, rawURL, status, meta, body)
	}

	r.finish(status, meta, body)
	return nil
}

// streamBody reads resp.Body to completion in bodyReadChunk-sized pieces,
// appending each piece to an owned buffer and posting a coalesced
// updated notification per chunk (spec.md §4.6's streaming contract),
// rather than handing the caller an unread reader.
func (r *Request) streamBody(ctx context.Context, resp *transport.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	chunk := make([]byte, bodyReadChunk)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			r.notifyUpdated()
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("request: read body: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// finish records the final status/meta/body on the response (running
// the filter chain and cache population have already happened by the
// time this is called) and transitions to StateFinished.
func (r *Request) finish(status transport.Status, meta string, body []byte) {
	r.mu.Lock()
	if r.response == nil {
		r.response = &transport.Response{}
	}
	r.response.Status = status
	r.response.Meta = meta
	r.response.Bytes = body
	r.response.Body = io.NopCloser(bytes.NewReader(body))
	r.state = StateFinished
	r.mu.Unlock()
	r.notifyUpdated()
	r.notifyFinished()
}

const cacheTTL = 15 * time.Minute

// storeCached writes the final status/meta/body into the response cache
// under a single encoded value, so a cache hit can reconstruct the full
// response without a second round trip.
func (r *Request) storeCached(ctx context.Context, c CacheStore, key string, status transport.Status, meta string, body []byte) {
	encoded := encodeCacheEntry(status, meta, body)
	if err := c.Set(ctx, key, encoded, cacheTTL); err != nil {
		r.logger.Debug("request: cache store failed", "url", key, "error", err)
	}
}

// loadCached consults the response cache for key, decoding a hit back
// into a status/meta/body triple.
func (r *Request) loadCached(ctx context.Context, c CacheStore, key string) (transport.Status, string, []byte, bool) {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return 0, "", nil, false
	}
	status, meta, body, ok := decodeCacheEntry(raw)
	if !ok {
		return 0, "", nil, false
	}
	return status, meta, body, true
}

// encodeCacheEntry packs status/meta/body as "<status> <meta>\n<body>",
// mirroring the Gemini wire header shape so the cache entry is easy to
// eyeball with a Redis CLI during debugging.
func encodeCacheEntry(status transport.Status, meta string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %s\n", status, meta)
	buf.Write(body)
	return buf.Bytes()
}

func decodeCacheEntry(raw []byte) (transport.Status, string, []byte, bool) {
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return 0, "", nil, false
	}
	header := string(raw[:idx])
	body := raw[idx+1:]

	sp := strings.IndexByte(header, ' ')
	if sp < 0 {
		return 0, "", nil, false
	}
	var code int
	if _, err := fmt.Sscanf(header[:sp], "%d", &code); err != nil {
		return 0, "", nil, false
	}
	return transport.Status(code), header[sp+1:], body, true
}

func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureNetwork
	default:
		msg := err.Error()
		switch {
		case strings.Contains(msg, "certificate rejected"):
			return FailureCertUnverified
		case strings.Contains(msg, "incomplete response header"):
			return FailureIncompleteHeader
		case strings.Contains(msg, "tls handshake"):
			return FailureTLS
		case strings.Contains(msg, "no fetcher registered"):
			return FailureUnsupportedScheme
		default:
			return FailureNetwork
		}
	}
}

func (r *Request) fail(kind FailureKind, err error) error {
	r.mu.Lock()
	r.state = StateFailure
	r.failureKind = kind
	r.err = err
	r.mu.Unlock()
	r.notifyUpdated()
	r.notifyFinished()
	return err
}

// Cancel aborts an in-flight request, if any; it is a no-op once finished.
func (r *Request) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// FailureInfo returns the classification and underlying error for a
// request that ended in StateFailure.
func (r *Request) FailureInfo() (FailureKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateFailure {
		return FailureNone, ErrNotFailure
	}
	return r.failureKind, r.err
}

// LockResponse pins the response's header fields and returns its status,
// meta, and TOFU fingerprint, incrementing a hold count that
// UnlockResponse must release. Safe to call from multiple observers.
func (r *Request) LockResponse() (status transport.Status, meta string, peerFP []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.response == nil {
		return 0, "", nil, ErrNotLocked
	}
	r.responseLock++
	return r.response.Status, r.response.Meta, r.response.PeerCertFP, nil
}

// UnlockResponse releases one hold acquired by LockResponse.
func (r *Request) UnlockResponse() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responseLock > 0 {
		r.responseLock--
	}
}

// Body returns a fresh reader over the fully-read (and, if a filter
// chain is installed, already-filtered) response body. Callers must
// have an active LockResponse hold.
func (r *Request) Body() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responseLock <= 0 {
		return nil, ErrNotLocked
	}
	if r.response == nil || r.response.Body == nil {
		return nil, fmt.Errorf("request: no response body")
	}
	return io.NopCloser(bytes.NewReader(r.response.Bytes)), nil
}
