// Package ribbit implements the Ribbit transport: CDN/version manifests
// and config blobs served over a raw TCP socket on port 1119. Protocol
// v1 wraps the payload in a MIME multipart message with a trailing
// SHA-256 checksum line; v2 drops the MIME envelope and returns the BPSV
// body directly.
package ribbit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("transport/ribbit")

const defaultPort = 1119

// Version selects the wire framing Ribbit uses to answer a request.
type Version int

const (
	V1 Version = iota
	V2
)

// Client speaks the Ribbit protocol against a single host.
type Client struct {
	host    string
	port    int
	version Version
	dialer  net.Dialer
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPort overrides the default TCP port 1119.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithTimeout overrides the default per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New returns a Client against host using the given protocol version.
func New(host string, version Version, opts ...Option) *Client {
	c := &Client{
		host:    host,
		port:    defaultPort,
		version: version,
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request issues a raw Ribbit command (e.g. "v1/products/wow/versions")
// and returns the decoded response body.
func (c *Client) Request(ctx context.Context, command string) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", c.host, c.port))
	if err != nil {
		return "", fmt.Errorf("transport/ribbit: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", command); err != nil {
		return "", fmt.Errorf("transport/ribbit: write command: %w", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("transport/ribbit: read response: %w", err)
	}

	switch c.version {
	case V2:
		return string(raw), nil
	default:
		return decodeV1(raw), nil
	}
}

// decodeV1 strips the MIME envelope and checks the trailing SHA-256
// checksum line Ribbit v1 appends after the multipart body; a mismatch is
// logged at debug level and the body is returned regardless. On anything
// that doesn't parse as multipart, it falls back to stripping a bare
// "Checksum: " epilogue, which is what the single-part /summary endpoint
// actually returns.
func decodeV1(raw []byte) string {
	msg, err := mail.ReadMessage(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return stripChecksumEpilogue(raw)
	}
	contentType := msg.Header.Get("Content-Type")
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(contentType, "multipart/") {
		return stripChecksumEpilogue(raw)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var body, checksumHex string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		data, err := io.ReadAll(part)
		if err != nil {
			continue
		}
		if strings.HasPrefix(part.Header.Get("Content-Type"), "text/plain") && body == "" {
			body = string(data)
		} else if checksumHex == "" {
			checksumHex = strings.TrimSpace(string(data))
		}
	}

	if checksumHex != "" {
		if want, err := hex.DecodeString(checksumHex); err == nil {
			got := sha256.Sum256([]byte(body))
			if !bytes.Equal(want, got[:]) {
				log.Debugw("ribbit v1 checksum mismatch", "want", checksumHex)
			}
		}
	}
	return body
}

func stripChecksumEpilogue(raw []byte) string {
	s := string(raw)
	if idx := strings.LastIndex(s, "\nChecksum: "); idx != -1 {
		return s[:idx]
	}
	return s
}
