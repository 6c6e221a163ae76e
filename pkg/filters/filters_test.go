package filters

import (
	"context"
	"testing"

	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdApply(t *testing.T) {
	tests := []struct {
		name      string
		threshold Threshold
		in        runnable.Result
		wantKind  runnable.FailureKind
		wantOK    bool
	}{
		{
			name:      "higher is worse, below warn passes",
			threshold: Threshold{Warn: 80, Crit: 95, HigherIsWorse: true},
			in:        runnable.Result{Value: "50"},
			wantOK:    true,
		},
		{
			name:      "higher is worse, crosses warn",
			threshold: Threshold{Warn: 80, Crit: 95, HigherIsWorse: true},
			in:        runnable.Result{Value: "85"},
			wantKind:  runnable.TestWarning,
		},
		{
			name:      "higher is worse, crosses crit",
			threshold: Threshold{Warn: 80, Crit: 95, HigherIsWorse: true},
			in:        runnable.Result{Value: "99"},
			wantKind:  runnable.TestCritical,
		},
		{
			name:      "lower is worse, below crit fails",
			threshold: Threshold{Warn: 20, Crit: 10, HigherIsWorse: false},
			in:        runnable.Result{Value: "5"},
			wantKind:  runnable.TestCritical,
		},
		{
			name:      "non numeric payload passes through",
			threshold: Threshold{Warn: 80, Crit: 95, HigherIsWorse: true},
			in:        runnable.Result{Value: "not-a-number"},
			wantOK:    true,
		},
		{
			name:      "already failed result passes through unchanged",
			threshold: Threshold{Warn: 80, Crit: 95, HigherIsWorse: true},
			in:        runnable.Result{Err: &runnable.Failure{Kind: runnable.TestUnknown}},
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.threshold.Apply(context.Background(), tt.in)
			if tt.wantOK {
				assert.NoError(t, err)
				assert.Equal(t, tt.in, out)
				return
			}
			require.Error(t, err)
			ferr, ok := err.(*FilterError)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, ferr.State())
		})
	}
}

func TestDefaultApply(t *testing.T) {
	d := Default{Value: "fallback"}

	out, err := d.Apply(context.Background(), runnable.Result{Err: &runnable.Failure{Kind: runnable.TestCritical}})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out.Value)
	assert.True(t, out.OK())

	passthrough, err := d.Apply(context.Background(), runnable.Result{Value: "real"})
	require.NoError(t, err)
	assert.Equal(t, "real", passthrough.Value)
}

func TestRegexApply(t *testing.T) {
	tests := []struct {
		name     string
		filter   Regex
		in       runnable.Result
		wantFail bool
		wantKind runnable.FailureKind
	}{
		{
			name:   "matches passes",
			filter: Regex{Pattern: "^ok"},
			in:     runnable.Result{Value: "ok, all good"},
		},
		{
			name:     "no match fails with default kind",
			filter:   Regex{Pattern: "^ok"},
			in:       runnable.Result{Value: "error: timeout"},
			wantFail: true,
			wantKind: runnable.TestCritical,
		},
		{
			name:   "inverted, no match passes",
			filter: Regex{Pattern: "error", Invert: true},
			in:     runnable.Result{Value: "all good"},
		},
		{
			name:     "inverted, match fails",
			filter:   Regex{Pattern: "error", Invert: true, Kind: runnable.TestWarning},
			in:       runnable.Result{Value: "error: disk full"},
			wantFail: true,
			wantKind: runnable.TestWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.filter.Apply(context.Background(), tt.in)
			if !tt.wantFail {
				assert.NoError(t, err)
				assert.Equal(t, tt.in, out)
				return
			}
			require.Error(t, err)
			ferr, ok := err.(*FilterError)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, ferr.State())
		})
	}
}

func TestRegexInvalidPattern(t *testing.T) {
	r := Regex{Pattern: "("}
	_, err := r.Apply(context.Background(), runnable.Result{Value: "x"})
	require.Error(t, err)
	ferr, ok := err.(*FilterError)
	require.True(t, ok)
	assert.Equal(t, runnable.ConfigError, ferr.State())
}

func TestChainApply(t *testing.T) {
	chain := Chain{Filters: []Filter{
		Default{Value: "0"},
		Threshold{Warn: 80, Crit: 95, HigherIsWorse: true},
	}}

	// A failed upstream result recovers via Default, then passes the
	// threshold check since "0" is below both thresholds.
	out := chain.Apply(context.Background(), runnable.Result{Err: &runnable.Failure{Kind: runnable.TestUnknown}})
	assert.True(t, out.OK())
	assert.Equal(t, "0", out.Value)
}

const xpathExample = `
<html>
    <head>
        <title>Test XML</title>
    </head>
    <body>
        <div class="title">This has been a test</div>
        <p>Text #1</p><p>Text #2</p>
    </body>
</html>
`

func TestXPathApplyBasic(t *testing.T) {
	f := XPath{Expr: "//div/text()"}
	out, err := f.Apply(context.Background(), runnable.Result{Value: xpathExample})
	require.NoError(t, err)
	assert.Equal(t, "This has been a test", out.Value)
}

func TestXPathApplyMissingFailsWithoutDefault(t *testing.T) {
	f := XPath{Expr: "//span/text()"}
	_, err := f.Apply(context.Background(), runnable.Result{Value: xpathExample})
	require.Error(t, err)
	ferr, ok := err.(*FilterError)
	require.True(t, ok)
	assert.Equal(t, runnable.TestUnknown, ferr.State())
}

func TestXPathApplyMissingRecoversWithDefault(t *testing.T) {
	f := XPath{Expr: "//span/text()", Default: "none", HasDefault: true}
	out, err := f.Apply(context.Background(), runnable.Result{Value: xpathExample})
	require.NoError(t, err)
	assert.Equal(t, "none", out.Value)
}

func TestXPathApplyElementRendersOuterMarkup(t *testing.T) {
	f := XPath{Expr: "//title"}
	out, err := f.Apply(context.Background(), runnable.Result{Value: xpathExample})
	require.NoError(t, err)
	assert.Equal(t, "<title>Test XML</title>", out.Value)
}

func TestXPathApplyMultipleMatchesJoinOnNewlines(t *testing.T) {
	f := XPath{Expr: "//p"}
	out, err := f.Apply(context.Background(), runnable.Result{Value: xpathExample})
	require.NoError(t, err)
	assert.Equal(t, "<p>Text #1</p>\n<p>Text #2</p>", out.Value)
}

func TestXPathApplyAlreadyFailedResultPassesThrough(t *testing.T) {
	f := XPath{Expr: "//div/text()"}
	in := runnable.Result{Err: &runnable.Failure{Kind: runnable.TestCritical}}
	out, err := f.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestChainApplyStopsAtFirstFailure(t *testing.T) {
	chain := Chain{Filters: []Filter{
		Threshold{Warn: 80, Crit: 95, HigherIsWorse: true},
		Default{Value: "recovered"},
	}}

	out := chain.Apply(context.Background(), runnable.Result{Value: "99"})
	require.False(t, out.OK())
	assert.Equal(t, runnable.TestCritical, out.Err.Kind)
	assert.Equal(t, "99", out.Err.Partial)
}
