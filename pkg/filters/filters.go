// Package filters maps raw query Results to test states. A Chain runs a
// sequence of Filters left to right; each Filter can pass the Result
// through, rewrite its Value, or turn it into a Failure. Built-ins cover
// the common monitoring-threshold idioms: numeric threshold comparison,
// a literal default recovery value, regex match/invert, and XPath node
// selection out of an HTML/XML payload.
package filters

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/cuemby/probekit/pkg/runnable"
	"golang.org/x/net/html"
)

// Filter transforms one Result into another. A Filter that wants to fail
// the pipeline returns a non-nil error; Chain wraps that error into a
// Failure of the kind the error itself reports via FilterError.
type Filter interface {
	Apply(ctx context.Context, in runnable.Result) (runnable.Result, error)
}

// FilterError is an error that knows which FailureKind it should surface
// as, so a Threshold breach reads as CRITICAL/WARNING instead of a flat
// UNKNOWN.
type FilterError struct {
	Kind    runnable.FailureKind
	Message string
}

func (e *FilterError) Error() string { return e.Message }

// State reports the FailureKind this error should surface as.
func (e *FilterError) State() runnable.FailureKind { return e.Kind }

// Chain runs Filters in order. If a filter returns an error, the chain
// stops immediately and produces a Result carrying that Failure; a later
// filter never runs to "recover" an earlier one, since execution stopped
// at the failing link -- the recovery case is instead expressed directly
// as a Filter, e.g. Default acting before a Threshold would otherwise fail.
type Chain struct {
	Filters []Filter
}

// Apply runs every filter in sequence, threading the Result through.
func (c Chain) Apply(ctx context.Context, in runnable.Result) runnable.Result {
	result := in
	for _, f := range c.Filters {
		out, err := f.Apply(ctx, result)
		if err != nil {
			kind := runnable.TestUnknown
			if fe, ok := err.(*FilterError); ok {
				kind = fe.State()
			}
			return runnable.Result{Err: &runnable.Failure{
				Kind:    kind,
				Message: err.Error(),
				Partial: result.Value,
			}}
		}
		result = out
	}
	return result
}

// Threshold fails a Result once its numeric value crosses Warn or Crit.
// Modeled on the consecutive-failure/retry counting the teacher's
// health.Status.Update performs, collapsed to the single-sample case a
// filter operates on.
type Threshold struct {
	Warn float64
	Crit float64
	// HigherIsWorse is true for metrics like latency or error rate, false
	// for metrics like free disk space where a lower value is worse.
	HigherIsWorse bool
}

func (t Threshold) Apply(ctx context.Context, in runnable.Result) (runnable.Result, error) {
	if !in.OK() {
		return in, nil
	}
	value, _, ok := runnable.MathValue(in.Value).Float()
	if !ok {
		return in, nil
	}

	breach := func(threshold float64) bool {
		if t.HigherIsWorse {
			return value >= threshold
		}
		return value <= threshold
	}

	if breach(t.Crit) {
		return in, &FilterError{Kind: runnable.TestCritical, Message: fmt.Sprintf("value %v crossed critical threshold %v", value, t.Crit)}
	}
	if breach(t.Warn) {
		return in, &FilterError{Kind: runnable.TestWarning, Message: fmt.Sprintf("value %v crossed warning threshold %v", value, t.Warn)}
	}
	return in, nil
}

// Default recovers a failed Result by substituting a literal value,
// mirroring the xpath[default] escape hatch: a missing or failed payload
// doesn't fail the test, it just reads as this fallback.
type Default struct {
	Value string
}

func (d Default) Apply(ctx context.Context, in runnable.Result) (runnable.Result, error) {
	if in.OK() {
		return in, nil
	}
	return runnable.Result{Value: d.Value}, nil
}

// Regex fails a Result depending on whether its Value matches Pattern.
// Invert flips the sense, so the same Filter type expresses both
// "must match" and "must not match" tests.
type Regex struct {
	Pattern string
	Invert  bool
	Kind    runnable.FailureKind
}

func (r Regex) Apply(ctx context.Context, in runnable.Result) (runnable.Result, error) {
	if !in.OK() {
		return in, nil
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return in, &FilterError{Kind: runnable.ConfigError, Message: fmt.Sprintf("invalid pattern %q: %v", r.Pattern, err)}
	}

	matched := re.MatchString(in.Value)
	fail := matched == r.Invert
	if !fail {
		return in, nil
	}

	kind := r.Kind
	if kind == 0 {
		kind = runnable.TestCritical
	}
	verb := "did not match"
	if r.Invert {
		verb = "matched"
	}
	return in, &FilterError{Kind: kind, Message: fmt.Sprintf("value %q %s pattern %q", in.Value, verb, r.Pattern)}
}

// XPath selects one or more nodes out of an HTML/XML payload, the Go
// equivalent of nagcat's "xpath:<expr>" / "xpath[<default>]:<expr>"
// filter syntax (original_source/python/nagcat/unittests/filters/
// test_xml.py). A text()/@attr selection yields its string value
// directly; an element selection renders back to its outer markup
// (testXML); multiple matches join on newlines (testMultiXML). The
// document is parsed leniently as HTML rather than strict XML, matching
// the original's tolerance of the malformed-markup case (testBad) --
// a missing match is a Failure either way, parse errors aside.
type XPath struct {
	Expr string
	// Default, when HasDefault is set, replaces a "no nodes matched"
	// result with this literal value instead of failing the pipeline --
	// the "xpath[none]:..." form in the original syntax.
	Default    string
	HasDefault bool
}

func (x XPath) Apply(ctx context.Context, in runnable.Result) (runnable.Result, error) {
	if !in.OK() {
		return in, nil
	}

	doc, err := htmlquery.Parse(strings.NewReader(in.Value))
	if err != nil {
		return in, &FilterError{Kind: runnable.TestUnknown, Message: fmt.Sprintf("xpath: parsing payload: %v", err)}
	}

	nodes, err := htmlquery.QueryAll(doc, x.Expr)
	if err != nil {
		return in, &FilterError{Kind: runnable.ConfigError, Message: fmt.Sprintf("xpath: invalid expression %q: %v", x.Expr, err)}
	}

	if len(nodes) == 0 {
		if x.HasDefault {
			return runnable.Result{Value: x.Default}, nil
		}
		return in, &FilterError{Kind: runnable.TestUnknown, Message: fmt.Sprintf("xpath: no match for %q", x.Expr)}
	}

	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
			continue
		}
		parts = append(parts, htmlquery.OutputHTML(n, true))
	}
	return runnable.Result{Value: strings.Join(parts, "\n")}, nil
}
