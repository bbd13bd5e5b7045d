// Package gopher implements a minimal Gopher client: a plain TCP
// connection, a single selector line, and the response as the remainder
// of the stream. There is no status/header line in Gopher, so the
// fetcher always reports transport.StatusSuccess and guesses the MIME
// type from the selector's leading item-type character.
package gopher

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vellum-gemini/vellum/internal/request/transport"
)

func init() {
	transport.Register("gopher", func() transport.Fetcher { return &Fetcher{} })
}

const (
	defaultPort = 70
	dialTimeout = 20 * time.Second
)

// Fetcher implements transport.Fetcher for gopher:// URLs.
type Fetcher struct{}

// Fetch opens a TCP connection, sends the selector, and returns the
// remainder of the stream as the body.
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
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gopher: dial %s: %w", addr, err)
	}

	selector := strings.TrimPrefix(req.Path, "/")
	if _, err := fmt.Fprintf(conn, "%s\r\n", selector); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gopher: send selector: %w", err)
	}

	return &transport.Response{
		Status: transport.StatusSuccess,
		Meta:   itemTypeMIME(selector),
		Body:   conn,
	}, nil
}

// itemTypeMIME guesses a MIME type from the selector's conventional
// leading item-type digit (gopher maps do not carry MIME types).
func itemTypeMIME(selector string) string {
	if len(selector) == 0 {
		return "text/plain"
	}
	switch selector[0] {
	case '0':
		return "text/plain"
	case '1', '7':
		return "application/gopher-menu"
	case 'g', 'I':
		return "image/unknown"
	case 'h':
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
