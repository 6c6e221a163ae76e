package query

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
)

// SubprocessConfig runs a local command and inspects its exit code and
// output. The command runs in its own process group so that a timeout
// kills the whole tree, not just the immediate child.
type SubprocessConfig struct {
	Name    string
	Command []string
	Env     map[string]string
	Repeat  time.Duration
	Timeout time.Duration
}

func (c SubprocessConfig) Kind() Kind { return KindSubprocess }

// Fingerprint sorts env keys so that equivalent environments in different
// insertion order still collapse onto one Runnable.
func (c SubprocessConfig) Fingerprint() string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	envParts := make([]string, 0, len(keys))
	for _, k := range keys {
		envParts = append(envParts, k+"="+c.Env[k])
	}
	return joinFields(string(KindSubprocess), joinFields(c.Command...), joinFields(envParts...))
}

type subprocessBody struct {
	cfg SubprocessConfig
}

func (b *subprocessBody) Run(ctx context.Context) runnable.Result {
	if len(b.cfg.Command) == 0 {
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.ConfigError,
			Message: "no command specified",
		}}
	}

	cmd := exec.CommandContext(ctx, b.cfg.Command[0], b.cfg.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(b.cfg.Env) > 0 {
		env := cmd.Environ()
		for k, v := range b.cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	// Kill the whole process group on cancellation instead of just the
	// direct child, so a command that forks doesn't outlive its timeout.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := truncate(stdout.String(), 4096)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return runnable.Result{Err: &runnable.Failure{
				Kind:    runnable.TestCritical,
				Message: fmt.Sprintf("Timeout waiting for command to finish. (%v)", b.cfg.Command),
				Partial: out,
			}}
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			if code == 127 {
				return runnable.Result{Err: &runnable.Failure{
					Kind:    runnable.TestUnknown,
					Message: fmt.Sprintf("command not found: %v", b.cfg.Command),
					Partial: out,
				}}
			}
			return runnable.Result{Err: &runnable.Failure{
				Kind:    runnable.TestCritical,
				Message: fmt.Sprintf("exit %d: %s", code, truncate(stderr.String(), 4096)),
				Partial: out,
			}}
		}
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("exec failed: %v", err),
			Partial: out,
		}}
	}

	return runnable.Result{Value: out}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func init() {
	register(KindSubprocess, func(reg *Registry, cfg Config, clk clock.Clock, logger zerolog.Logger) (*runnable.Base, error) {
		c := cfg.(SubprocessConfig)
		return runnable.NewBase("subprocess:"+c.Name, c.Repeat, c.Timeout, &subprocessBody{cfg: c}, clk, logger).SetCategory("Query"), nil
	})
}
