package query

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPConfigKind(t *testing.T) {
	assert.Equal(t, KindHTTP, HTTPConfig{}.Kind())
	assert.Equal(t, KindHTTPS, HTTPConfig{InsecureTLS: true}.Kind())
}

func TestHTTPConfigFingerprintIgnoresHeaderOrderAndCase(t *testing.T) {
	a := HTTPConfig{URL: "http://x", Headers: map[string]string{"Accept": "json", "X-A": "1"}}
	b := HTTPConfig{URL: "http://x", Headers: map[string]string{"accept": "json", "x-a": "1"}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestHTTPConfigFingerprintDistinguishesMethodAndBody(t *testing.T) {
	get := HTTPConfig{URL: "http://x", Method: "GET"}
	post := HTTPConfig{URL: "http://x", Method: "POST", Body: "payload"}
	assert.NotEqual(t, get.Fingerprint(), post.Fingerprint())
}

func runHTTPQuery(t *testing.T, cfg HTTPConfig) (string, bool) {
	t.Helper()
	reg := NewRegistry()
	rb, err := reg.Get(cfg, clock.Real{}, zerolog.Nop())
	require.NoError(t, err)
	res, err := rb.Start(t.Context())
	require.NoError(t, err)
	return res.Value, res.OK()
}

func TestHTTPQuerySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	value, ok := runHTTPQuery(t, HTTPConfig{URL: srv.URL, Repeat: time.Minute, Timeout: 5 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, "pong", value)
}

func TestHTTPQueryRedirectIsSuccessNotFollowed(t *testing.T) {
	var followed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			followed = true
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, "/final", http.StatusFound)
	}))
	defer srv.Close()

	value, ok := runHTTPQuery(t, HTTPConfig{URL: srv.URL + "/", Repeat: time.Minute, Timeout: 5 * time.Second})
	require.True(t, ok, "a redirect is reported as success, not a failure")
	assert.Contains(t, value, "302")
	assert.Contains(t, value, "/final")
	assert.False(t, followed, "the client must not auto-follow the redirect")
}

func TestHTTPQueryUnexpectedStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	value, ok := runHTTPQuery(t, HTTPConfig{URL: srv.URL, Repeat: time.Minute, Timeout: 5 * time.Second})
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestHTTPQueryBodyTimeoutIsFailureNotPartialSuccess(t *testing.T) {
	// A raw listener that advertises more body than it ever sends, then
	// hangs -- the client's body read must time out rather than return
	// the truncated bytes as a successful Result.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial"))
		select {}
	}()

	value, ok := runHTTPQuery(t, HTTPConfig{URL: "http://" + ln.Addr().String(), Repeat: time.Minute, Timeout: 200 * time.Millisecond})
	assert.False(t, ok, "a body read that times out mid-stream must be a failure")
	assert.Empty(t, value)
}

func TestHTTPQueryExpectSubstring(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("status: healthy"))
	}))
	defer srv.Close()

	_, ok := runHTTPQuery(t, HTTPConfig{URL: srv.URL, ExpectSubstring: "healthy", Repeat: time.Minute, Timeout: 5 * time.Second})
	assert.True(t, ok)

	_, ok = runHTTPQuery(t, HTTPConfig{URL: srv.URL, ExpectSubstring: "unhealthy", Repeat: time.Minute, Timeout: 5 * time.Second})
	assert.False(t, ok)
}
