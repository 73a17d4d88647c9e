package ribbit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serveOnce accepts a single connection, reads the command line, and
// writes back response, then closes the listener.
func serveOnce(t *testing.T, response []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		_, _ = reader.ReadString('\n')
		conn.Write(response)
	}()

	return ln.Addr().String()
}

func TestRequestV2RawBPSV(t *testing.T) {
	body := "Region!STRING:0|BuildId!DEC:4\nus|12345\n"
	_, port, host := splitHostPort(t, serveOnce(t, []byte(body)))

	c := New(host, V2, WithPort(port))
	text, err := c.Request(t.Context(), "v2/products/wow/versions")
	require.NoError(t, err)
	require.Equal(t, body, text)
}

func TestRequestV1MultipartWithChecksum(t *testing.T) {
	payload := "Region!STRING:0|BuildId!DEC:4\nus|12345\n"
	sum := sha256.Sum256([]byte(payload))
	checksumHex := hex.EncodeToString(sum[:])

	boundary := "----ribbit-boundary"
	msg := "Content-Type: multipart/mixed; boundary=" + boundary + "\r\n\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		payload + "\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		checksumHex + "\r\n" +
		"--" + boundary + "--\r\n"

	_, port, host := splitHostPort(t, serveOnce(t, []byte(msg)))
	c := New(host, V1, WithPort(port))
	text, err := c.Request(t.Context(), "v1/products/wow/versions")
	require.NoError(t, err)
	require.Equal(t, payload, text)
}

func TestRequestDialTimeout(t *testing.T) {
	c := New("127.0.0.1", V2, WithPort(1), WithTimeout(50*time.Millisecond))
	_, err := c.Request(t.Context(), "v2/products/wow/versions")
	require.Error(t, err)
}

func splitHostPort(t *testing.T, addr string) (string, int, string) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)
	return addr, port, host
}
