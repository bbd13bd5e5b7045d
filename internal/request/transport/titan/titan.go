// Package titan implements the Titan upload protocol: same TLS dial and
// response-header wire format as Gemini, but the request line is followed
// immediately by the upload payload before the server sends its response.
package titan

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/vellum-gemini/vellum/internal/request/transport"
	"github.com/vellum-gemini/vellum/internal/request/transport/gemini"
)

func init() {
	transport.Register("titan", func() transport.Fetcher { return &Fetcher{} })
}

const (
	defaultPort = 1965
	dialTimeout = 20 * time.Second
)

// Fetcher implements transport.Fetcher for titan:// URLs.
type Fetcher struct{}

// Fetch dials host:port over TLS, sends the titan request line followed by
// the raw upload bytes, then parses the response header exactly as Gemini
// does (spec.md §4.6).
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
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}
	if req.Identity != nil && len(req.Identity.Raw) > 0 {
		tlsConf.Certificates = []tls.Certificate{{Certificate: [][]byte{req.Identity.Raw}}}
	}

	rawConn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("titan: dial %s: %w", addr, err)
	}
	conn := tls.Client(rawConn, tlsConf)
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("titan: tls handshake: %w", err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		conn.Close()
		return nil, fmt.Errorf("titan: no peer certificate presented")
	}
	leaf := state.PeerCertificates[0]
	caAnchored := len(state.VerifiedChains) > 0

	if req.VerifyPeer != nil && !req.VerifyPeer(req.Host, port, leaf, caAnchored) {
		conn.Close()
		return nil, fmt.Errorf("titan: certificate rejected by trust store")
	}

	requestURL := fmt.Sprintf("%s;size=%d;mime=%s", req.URL, len(req.UploadData), nonEmpty(req.UploadMIME, "application/octet-stream"))
	if _, err := io.WriteString(conn, requestURL+"\r\n"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("titan: send request line: %w", err)
	}
	if _, err := conn.Write(req.UploadData); err != nil {
		conn.Close()
		return nil, fmt.Errorf("titan: send upload body: %w", err)
	}

	status, meta, reader, err := gemini.ReadHeader(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &transport.Response{
		Status:     status,
		Meta:       meta,
		Body:       gemini.ReadCloser{R: reader, C: conn},
		PeerCertFP: gemini.Fingerprint(leaf.RawSubjectPublicKeyInfo),
	}, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
