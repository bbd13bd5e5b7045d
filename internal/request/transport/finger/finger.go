// Package finger implements RFC 1288 finger: a plain TCP connection, one
// query line (the URL's path with its leading slash removed; the URL's
// user-info is not used and no "/W" verbose flag is added), and the
// response as plain text.
package finger

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
	transport.Register("finger", func() transport.Fetcher { return &Fetcher{} })
}

const (
	defaultPort = 79
	dialTimeout = 20 * time.Second
)

// Fetcher implements transport.Fetcher for finger:// URLs.
type Fetcher struct{}

// Fetch opens a TCP connection and sends "<query>\r\n".
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
		return nil, fmt.Errorf("finger: dial %s: %w", addr, err)
	}

	query := strings.TrimPrefix(req.Path, "/")
	if _, err := fmt.Fprintf(conn, "%s\r\n", query); err != nil {
		conn.Close()
		return nil, fmt.Errorf("finger: send query: %w", err)
	}

	return &transport.Response{
		Status: transport.StatusSuccess,
		Meta:   "text/plain; charset=utf-8",
		Body:   conn,
	}, nil
}
