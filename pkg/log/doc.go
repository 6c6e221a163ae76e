/*
Package log provides structured logging for probekit using zerolog.

The package wraps zerolog to give every component a consistent,
JSON-or-console structured logger with a shared global level, plus a
handful of context-logger helpers for the fields that show up across
probes: component, host, test, and query.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("probekit starting")

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("arming group ticks")

	hostLog := log.WithHost(schedulerLog, "edge-gw-1")
	hostLog.Warn().Msg("query timed out")

# Integration Points

Only cmd/probekit imports this package. pkg/runnable, pkg/query,
pkg/group, pkg/scheduler, pkg/nagiostest and pkg/monitorapi take a
zerolog.Logger as a constructor argument instead; cmd/probekit builds
those loggers from the global Logger, tagging them with WithHost,
WithTest and WithQuery as it walks the config file.

# Security

Query payloads can carry arbitrary response bodies from monitored
targets; callers are responsible for not logging raw payload content at
anything above Debug level.
*/
package log
