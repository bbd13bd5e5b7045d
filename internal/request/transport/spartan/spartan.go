// Package spartan implements the Spartan protocol: a plain TCP
// connection, a "<host> <path> <content-length>\r\n" request line
// (optionally followed by an upload body when content-length > 0), and a
// "<status> <meta>\r\n" response header using Spartan's 2-3-4-5 status
// classes, remapped onto the Gemini-family transport.Status space.
package spartan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vellum-gemini/vellum/internal/request/transport"
)

func init() {
	transport.Register("spartan", func() transport.Fetcher { return &Fetcher{} })
}

const (
	defaultPort = 300
	dialTimeout = 20 * time.Second
)

// Fetcher implements transport.Fetcher for spartan:// URLs.
type Fetcher struct{}

// Fetch opens a TCP connection, sends the Spartan request line plus any
// upload payload, and parses the response header.
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
		return nil, fmt.Errorf("spartan: dial %s: %w", addr, err)
	}

	path := req.Path
	if path == "" {
		path = "/"
	}
	if _, err := fmt.Fprintf(conn, "%s %s %d\r\n", req.Host, path, len(req.UploadData)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("spartan: send request line: %w", err)
	}
	if len(req.UploadData) > 0 {
		if _, err := conn.Write(req.UploadData); err != nil {
			conn.Close()
			return nil, fmt.Errorf("spartan: send upload body: %w", err)
		}
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("spartan: incomplete response header")
		}
		return nil, fmt.Errorf("spartan: read header: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 2)
	code, err := strconv.Atoi(parts[0])
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("spartan: malformed status code %q", parts[0])
	}
	meta := ""
	if len(parts) == 2 {
		meta = parts[1]
	}

	return &transport.Response{
		Status: transport.Status(spartanToGeminiStatus(code)),
		Meta:   meta,
		Body:   spartanBody{r, conn},
	}, nil
}

// spartanToGeminiStatus remaps Spartan's one-digit 2/3/4/5 status onto
// the Gemini-family two-digit space the request pipeline's state machine
// understands: 3 -> 30, 4 -> 40, 5 -> 50, anything else -> 20.
func spartanToGeminiStatus(code int) int {
	switch code {
	case 3:
		return 30
	case 4:
		return 40
	case 5:
		return 50
	default:
		return 20
	}
}

type spartanBody struct {
	r io.Reader
	c io.Closer
}

func (b spartanBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b spartanBody) Close() error               { return b.c.Close() }
