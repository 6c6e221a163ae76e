// Package query implements the leaf Runnables that actually talk to the
// network: HTTP, raw TCP/TLS, subprocess, and SNMP checks. Each query kind
// has a Config that fingerprints its identity; the Registry uses the
// fingerprint to deduplicate Runnables so that two Tests asking the same
// question against the same target share one execution instead of two.
package query

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
)

// Kind is the type tag used to pick a query's constructor out of the
// registry. It plays the role that nagcat's "type" config key and
// globals()['Query_'+type] dispatch played in the original implementation,
// but as an explicit map instead of reflection over package globals.
type Kind string

const (
	KindNoop       Kind = "noop"
	KindHTTP       Kind = "http"
	KindHTTPS      Kind = "https"
	KindTCP        Kind = "tcp"
	KindSSL        Kind = "ssl"
	KindSubprocess Kind = "subprocess"
	KindSNMP       Kind = "snmp"
)

// Config is a query's identity: enough information to build the Runnable
// and a Fingerprint that collapses duplicate requests onto one Runnable.
type Config interface {
	runnable.Config
	Kind() Kind
}

// Constructor builds the Body (and wraps it in a *runnable.Base) for one
// Config. Registered per Kind in each driver's init(). The Registry is
// passed through so drivers that need per-registry shared state (the SNMP
// combined walker, keyed per host) can stash it there instead of using a
// package-level global that would leak across Registry instances.
type Constructor func(reg *Registry, cfg Config, clk clock.Clock, logger zerolog.Logger) (*runnable.Base, error)

var constructors = map[Kind]Constructor{}

func register(k Kind, c Constructor) {
	if _, exists := constructors[k]; exists {
		panic(fmt.Sprintf("query: constructor already registered for kind %q", k))
	}
	constructors[k] = c
}

// Registry deduplicates queries by fingerprint: the first caller to ask
// for a given Config builds the Runnable, every later caller with an
// identical fingerprint gets the same instance back.
type Registry struct {
	mu            sync.Mutex
	byFingerprint map[string]*runnable.Base
	extra         map[string]any
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byFingerprint: map[string]*runnable.Base{}, extra: map[string]any{}}
}

// Get returns the Runnable for cfg, constructing it on first use.
func (r *Registry) Get(cfg Config, clk clock.Clock, logger zerolog.Logger) (*runnable.Base, error) {
	r.mu.Lock()
	fp := cfg.Fingerprint()
	if existing, ok := r.byFingerprint[fp]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	ctor, ok := constructors[cfg.Kind()]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("query: no constructor registered for kind %q", cfg.Kind())
	}
	r.mu.Unlock()

	rb, err := ctor(r, cfg, clk, logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byFingerprint[fp]; ok {
		return existing, nil
	}
	r.byFingerprint[fp] = rb
	return rb, nil
}

// stash retrieves (creating via new if absent) a piece of registry-scoped
// shared state keyed by name. Used by drivers like SNMP that need one
// aggregator per distinct target rather than per query.
func (r *Registry) stash(key string, newFn func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.extra[key]; ok {
		return v
	}
	v := newFn()
	r.extra[key] = v
	return v
}

// Len reports how many distinct queries the registry currently holds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byFingerprint)
}

// canonicalHeaders lowercases header names and renders a sorted "k: v"
// list, both for fingerprinting and for request construction, mirroring
// the case-insensitive header dict the original used for the same job.
func canonicalHeaders(headers map[string]string) []string {
	out := make([]string, 0, len(headers))
	for k, v := range headers {
		out = append(out, strings.ToLower(k)+": "+v)
	}
	sort.Strings(out)
	return out
}

func joinFields(fields ...string) string {
	return strings.Join(fields, "\x1f")
}
