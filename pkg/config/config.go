// Package config loads the YAML configuration tree that describes which
// hosts, queries, and tests probekit should run, and resolves the
// "inherit from parent on a missing field" rule config nodes use for
// defaults (timeouts, repeat intervals, SNMP community strings) that
// apply to every descendant unless overridden closer to the leaf.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// durationPattern matches the distilled spec's §6 repeat/timeout format:
// a number (optionally fractional) followed by a unit, case-insensitive,
// surrounding whitespace allowed.
var durationPattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*(s|sec|seconds|m|min|minutes|h|hours)\s*$`)

// parseDuration implements the distilled spec's time-format grammar for
// repeat/timeout values: "0", empty, or a missing value means "no
// repeat" (zero duration); anything else must match durationPattern.
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "0" {
		return 0, nil
	}
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: want N(.N) followed by s|sec|seconds|m|min|minutes|h|hours", raw)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "s", "sec", "seconds":
		unit = time.Second
	case "m", "min", "minutes":
		unit = time.Minute
	case "h", "hours":
		unit = time.Hour
	}
	return time.Duration(n * float64(unit)), nil
}

// File is the root of a loaded configuration file.
type File struct {
	Defaults Defaults   `yaml:"defaults"`
	Hosts    []HostSpec `yaml:"hosts"`
}

// Defaults supply Repeat and Timeout for any test that leaves them unset
// (registerTest in cmd/probekit applies that fallback). Values is decoded
// but not applied to hosts or tests.
type Defaults struct {
	Repeat  time.Duration     `yaml:"repeat"`
	Timeout time.Duration     `yaml:"timeout"`
	Values  map[string]string `yaml:"values"`
}

// UnmarshalYAML decodes repeat/timeout through parseDuration instead of
// yaml.v3's native numeric decoding, since the distilled spec's format
// ("30s", "5m", ...) is a unit-suffixed string, not a bare integer of
// nanoseconds.
func (d *Defaults) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Repeat  string            `yaml:"repeat"`
		Timeout string            `yaml:"timeout"`
		Values  map[string]string `yaml:"values"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	repeat, err := parseDuration(raw.Repeat)
	if err != nil {
		return fmt.Errorf("config: defaults.repeat: %w", err)
	}
	timeout, err := parseDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("config: defaults.timeout: %w", err)
	}
	d.Repeat = repeat
	d.Timeout = timeout
	d.Values = raw.Values
	return nil
}

// HostSpec is one monitored target and the tests to run against it.
type HostSpec struct {
	Name    string     `yaml:"name"`
	Address string     `yaml:"address"`
	Peers   PeerSpec   `yaml:"peers"`
	Tests   []TestSpec `yaml:"tests"`
}

// PeerSpec configures peer-sharded execution for every test under this
// host, see distilled spec's MerlinTest contract.
type PeerSpec struct {
	NumPeers int `yaml:"num_peers"`
	PeerID   int `yaml:"peer_id"`
}

// TestSpec describes one test: its query and the filter chain applied to
// the query's result.
type TestSpec struct {
	Name    string            `yaml:"name"`
	Query   QuerySpec         `yaml:"query"`
	Repeat  time.Duration     `yaml:"repeat"`
	Timeout time.Duration     `yaml:"timeout"`
	Filters []FilterSpec      `yaml:"filters"`
	Values  map[string]string `yaml:"values"`
}

// UnmarshalYAML decodes repeat/timeout the same way Defaults does: a
// left-unset or "0" value means "inherit from Defaults" (see
// buildEngine in cmd/probekit), anything else must be a valid
// unit-suffixed duration string.
func (t *TestSpec) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name    string            `yaml:"name"`
		Query   QuerySpec         `yaml:"query"`
		Repeat  string            `yaml:"repeat"`
		Timeout string            `yaml:"timeout"`
		Filters []FilterSpec      `yaml:"filters"`
		Values  map[string]string `yaml:"values"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	repeat, err := parseDuration(raw.Repeat)
	if err != nil {
		return fmt.Errorf("config: test %s: repeat: %w", raw.Name, err)
	}
	timeout, err := parseDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("config: test %s: timeout: %w", raw.Name, err)
	}
	t.Name = raw.Name
	t.Query = raw.Query
	t.Repeat = repeat
	t.Timeout = timeout
	t.Filters = raw.Filters
	t.Values = raw.Values
	return nil
}

// QuerySpec is the raw query configuration; Kind selects which
// query.Config type it decodes into (see cmd/probekit's wiring code).
type QuerySpec struct {
	Kind      string            `yaml:"kind"`
	URL       string            `yaml:"url"`
	Method    string            `yaml:"method"`
	Headers   map[string]string `yaml:"headers"`
	Body      string            `yaml:"body"`
	Address   string            `yaml:"address"`
	TLS       bool              `yaml:"tls"`
	Send      string            `yaml:"send"`
	Command   []string          `yaml:"command"`
	Env       map[string]string `yaml:"env"`
	Host      string            `yaml:"host"`
	Port      uint16            `yaml:"port"`
	Community string            `yaml:"community"`
	OID       string            `yaml:"oid"`
	OIDBase   string            `yaml:"oid_base"`
	OIDKey    string            `yaml:"oid_key"`
	Key       string            `yaml:"key"`
	Data      string            `yaml:"data"`
}

// FilterSpec is one step of a test's filter chain.
type FilterSpec struct {
	Kind          string  `yaml:"kind"`
	Warn          float64 `yaml:"warn"`
	Crit          float64 `yaml:"crit"`
	HigherIsWorse bool    `yaml:"higher_is_worse"`
	Default       string  `yaml:"default"`
	Pattern       string  `yaml:"pattern"`
	Invert        bool    `yaml:"invert"`
	// XPath is the node-selection expression for kind "xpath"; Pattern
	// is reused by "regex" so xpath gets its own field instead of
	// overloading that one with a second meaning.
	XPath string `yaml:"xpath"`
	// XPathDefault is a pointer rather than a bare string so a config
	// author can distinguish "no default, fail on no match" (field
	// omitted) from "default to an empty string" (field present and
	// empty) -- the "xpath[none]:" vs "xpath:" distinction in the
	// original syntax.
	XPathDefault *string `yaml:"xpath_default"`
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &f, nil
}

// Node is a resolvable point in the config tree: a host or a test,
// carrying a reference to whichever node it should inherit missing
// values from. Built by the caller from a parsed File; Load itself stays
// a plain decode step so the inheritance walk can be unit tested in
// isolation from YAML parsing.
type Node struct {
	Values map[string]string
	Parent *Node
}

// Resolve walks from n up through Parent links, returning the first
// value found for key. This is the applyTreeDefaults replacement: rather
// than mutating a tree to push parent fields down onto every child, each
// node keeps only what it overrides and resolves the rest on read.
func Resolve(n *Node, key string) (string, bool) {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Values == nil {
			continue
		}
		if v, ok := cur.Values[key]; ok {
			return v, true
		}
	}
	return "", false
}
