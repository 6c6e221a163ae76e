package query

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPConfigKind(t *testing.T) {
	assert.Equal(t, KindTCP, TCPConfig{}.Kind())
	assert.Equal(t, KindSSL, TCPConfig{TLS: true}.Kind())
}

func TestTCPConfigFingerprintDistinguishesTarget(t *testing.T) {
	a := TCPConfig{Address: "localhost:1", Send: "PING"}
	b := TCPConfig{Address: "localhost:2", Send: "PING"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func echoOnceListener(t *testing.T, reply string) string {
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
		io.ReadAll(conn) // drain whatever the probe sends, then reply
		conn.Write([]byte(reply))
	}()
	return ln.Addr().String()
}

func TestTCPQuerySuccess(t *testing.T) {
	addr := echoOnceListener(t, "PONG\n")

	reg := NewRegistry()
	rb, err := reg.Get(TCPConfig{Address: addr, Send: "PING\n", Repeat: time.Minute, Timeout: 2 * time.Second}, clock.Real{}, zerolog.Nop())
	require.NoError(t, err)

	res, err := rb.Start(t.Context())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "PONG\n", res.Value)
}

func TestTCPQueryExpectSubstringFailure(t *testing.T) {
	addr := echoOnceListener(t, "ERROR\n")

	reg := NewRegistry()
	rb, err := reg.Get(TCPConfig{Address: addr, ExpectSubstring: "PONG", Repeat: time.Minute, Timeout: 2 * time.Second}, clock.Real{}, zerolog.Nop())
	require.NoError(t, err)

	res, err := rb.Start(t.Context())
	require.NoError(t, err)
	assert.False(t, res.OK())
}

func TestTCPQueryTimeoutWithPartialDataIsFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.ReadAll(conn)
		conn.Write([]byte("partial"))
		// Never close; the probe's read deadline must fire instead.
		select {}
	}()

	reg := NewRegistry()
	rb, err := reg.Get(TCPConfig{Address: ln.Addr().String(), Repeat: time.Minute, Timeout: 200 * time.Millisecond}, clock.Real{}, zerolog.Nop())
	require.NoError(t, err)

	res, err := rb.Start(t.Context())
	require.NoError(t, err)
	require.False(t, res.OK(), "a read that times out must be a failure even when some bytes were already received")
	assert.Equal(t, "partial", res.Err.Partial)
}

func TestTCPQueryConnectFailure(t *testing.T) {
	reg := NewRegistry()
	rb, err := reg.Get(TCPConfig{Address: "127.0.0.1:1", Repeat: time.Minute, Timeout: time.Second}, clock.Real{}, zerolog.Nop())
	require.NoError(t, err)

	res, err := rb.Start(t.Context())
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, "CRITICAL", res.Err.Kind.String())
}
