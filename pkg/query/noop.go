package query

import (
	"context"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
)

// NoopConfig always succeeds immediately with its configured Data
// literal. Useful as a dependency root in tests and as a placeholder
// leaf while a Test's real query is configured.
type NoopConfig struct {
	Name   string
	Data   string
	Repeat time.Duration
}

func (c NoopConfig) Kind() Kind          { return KindNoop }
func (c NoopConfig) Fingerprint() string { return joinFields(string(KindNoop), c.Name, c.Data) }

type noopBody struct {
	data string
}

func (b noopBody) Run(ctx context.Context) runnable.Result {
	return runnable.Result{Value: b.data}
}

func init() {
	register(KindNoop, func(reg *Registry, cfg Config, clk clock.Clock, logger zerolog.Logger) (*runnable.Base, error) {
		c := cfg.(NoopConfig)
		return runnable.NewBase("noop:"+c.Name, c.Repeat, 0, noopBody{data: c.Data}, clk, logger).SetCategory("Query"), nil
	})
}
