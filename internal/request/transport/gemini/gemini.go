// Package gemini implements the Gemini protocol fetcher: TLS dial with a
// TOFU verification callback, a single CRLF-terminated response header,
// and the response body as the remainder of the connection.
//
// Grounded on internal/platform/http/client/client.go's dialer/transport
// construction shape, replacing its SSRF dialer guard with the
// trust-store verification callback spec.md §4.2/§4.6 require.
package gemini

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vellum-gemini/vellum/internal/request/transport"
)

func init() {
	transport.Register("gemini", func() transport.Fetcher { return &Fetcher{} })
}

const (
	defaultPort    = 1965
	dialTimeout    = 20 * time.Second
	headerReadSize = 1024 // buffer size of the reader that scans for the CRLF header terminator
)

var (
	// ErrIncompleteHeader is returned when the connection closes before a
	// full CRLF-terminated header line is observed.
	ErrIncompleteHeader = errors.New("gemini: incomplete response header")
	// ErrMalformedHeader is returned when the header line isn't
	// "<2-digit status> [meta]".
	ErrMalformedHeader = errors.New("gemini: malformed response header")
)

// Fetcher implements transport.Fetcher for gemini:// URLs.
type Fetcher struct{}

// Fetch dials host:port over TLS, sends the one-line request, and parses
// the response header (spec.md §4.6).
func (f *Fetcher) Fetch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	port := req.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(req.Host, strconv.Itoa(port))

	dial := req.DialContext
	if dial == nil {
		dial = (&net.Dialer{Timeout: dialTimeout}).DialContext
	}
	tlsConf := &tls.Config{
		ServerName:         req.Host,
		InsecureSkipVerify: true, // trust decision is made manually via VerifyPeer below
		MinVersion:         tls.VersionTLS12,
	}
	if req.Identity != nil && len(req.Identity.Raw) > 0 {
		tlsConf.Certificates = []tls.Certificate{{Certificate: [][]byte{req.Identity.Raw}}}
	}

	rawConn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial %s: %w", addr, err)
	}

	conn := tls.Client(rawConn, tlsConf)
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: tls handshake: %w", err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		conn.Close()
		return nil, fmt.Errorf("gemini: no peer certificate presented")
	}
	leaf := state.PeerCertificates[0]
	caAnchored := len(state.VerifiedChains) > 0

	if req.VerifyPeer != nil && !req.VerifyPeer(req.Host, port, leaf, caAnchored) {
		conn.Close()
		return nil, fmt.Errorf("gemini: certificate rejected by trust store")
	}

	if _, err := io.WriteString(conn, req.URL+"\r\n"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: send request line: %w", err)
	}

	status, meta, reader, err := readHeader(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sum := sha256sum(leaf.RawSubjectPublicKeyInfo)
	return &transport.Response{
		Status:     status,
		Meta:       meta,
		Body:       ReadCloser{reader, conn},
		PeerCertFP: sum,
	}, nil
}

// ReadHeader reads up to the terminating CRLF and returns the parsed
// status/meta plus a reader positioned at the start of the body. Body
// bytes buffered while scanning for the header stay in that reader, so
// the body stream is intact for the caller. Exported so the titan fetcher, which shares the same
// header wire format, can reuse it.
func ReadHeader(conn net.Conn) (transport.Status, string, *bufio.Reader, error) {
	return readHeader(conn)
}

func readHeader(conn net.Conn) (transport.Status, string, *bufio.Reader, error) {
	r := bufio.NewReaderSize(conn, headerReadSize)
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return 0, "", nil, ErrIncompleteHeader
		}
		return 0, "", nil, fmt.Errorf("gemini: read header: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	if len(line) < 2 {
		return 0, "", nil, ErrMalformedHeader
	}
	code, err := strconv.Atoi(line[:2])
	if err != nil {
		return 0, "", nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	meta := ""
	if len(line) > 2 {
		meta = strings.TrimPrefix(line[2:], " ")
	}
	status := transport.Status(code)
	if status.Class() == 2 && meta == "" {
		meta = "text/gemini; charset=utf-8" // default meta for a bare "20" line, per spec
	}
	return status, meta, r, nil
}

// ReadCloser pairs a body reader with the underlying connection's Close,
// so the TLS connection is released once the caller is done with the body.
type ReadCloser struct {
	R io.Reader
	C io.Closer
}

func (rc ReadCloser) Read(p []byte) (int, error) { return rc.R.Read(p) }
func (rc ReadCloser) Close() error               { return rc.C.Close() }

// Fingerprint computes the SHA-256 of a DER-encoded SubjectPublicKeyInfo,
// matching internal/trust.Fingerprint.
func Fingerprint(spki []byte) []byte {
	sum := sha256.Sum256(spki)
	return sum[:]
}

func sha256sum(b []byte) []byte { return Fingerprint(b) }
