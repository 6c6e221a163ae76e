package query

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
)

// TCPConfig describes a raw TCP or TLS probe: connect, optionally write a
// probe string, then read the response until the peer closes its side or
// the timeout expires (a half-close read-to-EOF, same shape as the
// original's raw protocol handler).
type TCPConfig struct {
	Name            string
	Address         string
	TLS             bool
	InsecureTLS     bool
	Send            string
	ExpectSubstring string
	Repeat          time.Duration
	Timeout         time.Duration
}

func (c TCPConfig) Kind() Kind {
	if c.TLS {
		return KindSSL
	}
	return KindTCP
}

func (c TCPConfig) Fingerprint() string {
	return joinFields(string(c.Kind()), c.Address, c.Send, c.ExpectSubstring)
}

type tcpBody struct {
	cfg TCPConfig
}

func (b *tcpBody) Run(ctx context.Context) runnable.Result {
	var conn net.Conn
	var err error

	dialer := &net.Dialer{}
	if b.cfg.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{InsecureSkipVerify: b.cfg.InsecureTLS},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", b.cfg.Address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", b.cfg.Address)
	}
	if err != nil {
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("connect to %s: %v", b.cfg.Address, err),
		}}
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if b.cfg.Send != "" {
		if _, err := conn.Write([]byte(b.cfg.Send)); err != nil {
			return runnable.Result{Err: &runnable.Failure{
				Kind:    runnable.TestCritical,
				Message: fmt.Sprintf("write: %v", err),
			}}
		}
	}
	// Half-close: tell the peer we're done sending so it can flush
	// whatever reply it buffered before the connection closes.
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	resp, err := io.ReadAll(io.LimitReader(conn, 64*1024))
	if err != nil {
		// io.ReadAll treats a clean EOF (the peer closing its side) as
		// success with no error; any error reaching here is a real
		// failure (timeout, reset, ...), even when some bytes were
		// already read -- the partial payload rides along on the
		// failure rather than being reported as a successful Result.
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("read: %v", err),
			Partial: string(resp),
		}}
	}

	if b.cfg.ExpectSubstring != "" && !containsBytes(resp, b.cfg.ExpectSubstring) {
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("response did not contain %q", b.cfg.ExpectSubstring),
			Partial: string(resp),
		}}
	}

	return runnable.Result{Value: string(resp)}
}

func init() {
	build := func(reg *Registry, cfg Config, clk clock.Clock, logger zerolog.Logger) (*runnable.Base, error) {
		c := cfg.(TCPConfig)
		name := "tcp:" + c.Name
		if c.TLS {
			name = "ssl:" + c.Name
		}
		return runnable.NewBase(name, c.Repeat, c.Timeout, &tcpBody{cfg: c}, clk, logger).SetCategory("Query"), nil
	}
	register(KindTCP, build)
	register(KindSSL, build)
}
