package query

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPConfig describes an HTTP or HTTPS request query. Two configs that
// differ only by header ordering or header key casing fingerprint
// identically and therefore share one Runnable.
type HTTPConfig struct {
	Name            string
	URL             string
	Method          string
	Headers         map[string]string
	Body            string
	ExpectStatusMin int
	ExpectStatusMax int
	ExpectSubstring string
	InsecureTLS     bool
	Repeat          time.Duration
	Timeout         time.Duration
}

func (c HTTPConfig) Kind() Kind { return c.httpKind() }

// Fingerprint canonicalizes method, URL and headers so that requests that
// are identical modulo header ordering or casing dedup onto one Runnable.
func (c HTTPConfig) Fingerprint() string {
	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	return joinFields(
		string(c.httpKind()),
		method,
		c.URL,
		joinFields(canonicalHeaders(c.Headers)...),
		c.Body,
	)
}

func (c HTTPConfig) httpKind() Kind {
	if c.InsecureTLS {
		return KindHTTPS
	}
	return KindHTTP
}

type httpBody struct {
	cfg    HTTPConfig
	client *http.Client
}

func (b *httpBody) Run(ctx context.Context) runnable.Result {
	method := b.cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if b.cfg.Body != "" {
		bodyReader = strings.NewReader(b.cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.URL, bodyReader)
	if err != nil {
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("building request: %v", err),
		}}
	}

	// X-Request-Id lets operators correlate a probe's outbound request
	// with the target's access log.
	req.Header.Set("X-Request-Id", uuid.NewString())
	for _, kv := range canonicalHeaders(b.cfg.Headers) {
		idx := strings.IndexByte(kv, ':')
		req.Header.Set(kv[:idx], kv[idx+2:])
	}

	resp, err := b.client.Do(req)
	if err != nil {
		kind := runnable.TestCritical
		partial := ""
		if ctx.Err() != nil {
			partial = "request cancelled before completion"
		}
		return runnable.Result{Err: &runnable.Failure{
			Kind:    kind,
			Message: fmt.Sprintf("request failed: %v", err),
			Partial: partial,
		}}
	}
	defer resp.Body.Close()

	// Redirects are reported, not followed: a 3xx is a successful result
	// carrying the status and the Location header, not a hop to chase.
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return runnable.Result{Value: fmt.Sprintf("%d\n%s", resp.StatusCode, resp.Header.Get("Location"))}
	}

	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if readErr != nil {
		// A connection that drops or times out mid-body is a failure,
		// not a success carrying whatever bytes happened to arrive.
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("reading response body: %v", readErr),
			Partial: string(bodyBytes),
		}}
	}

	min, max := b.cfg.ExpectStatusMin, b.cfg.ExpectStatusMax
	if min == 0 && max == 0 {
		min, max = 200, 399
	}
	if resp.StatusCode < min || resp.StatusCode > max {
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("HTTP %d (expected %d-%d)", resp.StatusCode, min, max),
			Partial: string(bodyBytes),
		}}
	}

	if b.cfg.ExpectSubstring != "" && !containsBytes(bodyBytes, b.cfg.ExpectSubstring) {
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("response body did not contain %q", b.cfg.ExpectSubstring),
			Partial: string(bodyBytes),
		}}
	}

	return runnable.Result{Value: string(bodyBytes)}
}

func containsBytes(haystack []byte, needle string) bool {
	return needle == "" || strings.Contains(string(haystack), needle)
}

func init() {
	build := func(reg *Registry, cfg Config, clk clock.Clock, logger zerolog.Logger) (*runnable.Base, error) {
		c := cfg.(HTTPConfig)
		transport := &http.Transport{}
		if c.InsecureTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		client := &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		name := "http:" + c.Name
		if c.InsecureTLS {
			name = "https:" + c.Name
		}
		return runnable.NewBase(name, c.Repeat, c.Timeout, &httpBody{cfg: c, client: client}, clk, logger).SetCategory("Query"), nil
	}
	register(KindHTTP, build)
	register(KindHTTPS, build)
}
