package main

import (
	"fmt"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/config"
	"github.com/cuemby/probekit/pkg/events"
	"github.com/cuemby/probekit/pkg/filters"
	"github.com/cuemby/probekit/pkg/log"
	"github.com/cuemby/probekit/pkg/monitorapi"
	"github.com/cuemby/probekit/pkg/nagiostest"
	"github.com/cuemby/probekit/pkg/query"
	"github.com/cuemby/probekit/pkg/scheduler"
	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"
)

// engine is the wired-together runtime built from one config.File: a
// query registry, a scheduler with every test registered, an events
// cache shared between the scheduler and the monitoring endpoint, and
// the HTTP server itself.
type engine struct {
	registry  *query.Registry
	scheduler *scheduler.Scheduler
	server    *monitorapi.Server
	events    *events.Cache
	testCount int
}

// buildEngine loads configPath, constructs one query.Config per
// TestSpec, registers the resulting Test (or MerlinTest, when the host
// declares peer sharding) with the scheduler, and wires the monitoring
// endpoint to the same scheduler and events cache.
func buildEngine(configPath string, logger zerolog.Logger) (*engine, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	clk := clock.Real{}
	cache := events.NewCache()
	registry := query.NewRegistry()
	sched := scheduler.New(clk, logger, cache)

	eng := &engine{registry: registry, scheduler: sched, events: cache}

	for _, host := range file.Hosts {
		hostLogger := log.WithHost(logger, host.Name)
		for idx, ts := range host.Tests {
			if err := eng.registerTest(file, host, ts, idx, clk, hostLogger); err != nil {
				return nil, fmt.Errorf("host %s test %s: %w", host.Name, ts.Name, err)
			}
		}
	}

	eng.server = monitorapi.New(sched, cache, logger)
	return eng, nil
}

func (eng *engine) registerTest(file *config.File, host config.HostSpec, ts config.TestSpec, idx int, clk clock.Clock, logger zerolog.Logger) error {
	repeat := ts.Repeat
	if repeat == 0 {
		repeat = file.Defaults.Repeat
	}
	timeout := ts.Timeout
	if timeout == 0 {
		timeout = file.Defaults.Timeout
	}

	qcfg, err := buildQueryConfig(ts.Query, host, repeat, timeout)
	if err != nil {
		return err
	}

	queryLogger := log.WithQuery(logger, ts.Name)
	q, err := eng.registry.Get(qcfg, clk, queryLogger)
	if err != nil {
		return err
	}

	chain := filters.Chain{Filters: make([]filters.Filter, 0, len(ts.Filters))}
	for _, fs := range ts.Filters {
		f, err := buildFilter(fs)
		if err != nil {
			return err
		}
		chain.Filters = append(chain.Filters, f)
	}

	testLogger := log.WithTest(logger, ts.Name)
	name := host.Name + "/" + ts.Name
	t, err := nagiostest.New(name, q, chain, timeout, clk, testLogger)
	if err != nil {
		return err
	}

	eng.testCount++
	if host.Peers.NumPeers > 0 {
		shard := nagiostest.PeerShard{TestIndex: idx, NumPeers: host.Peers.NumPeers, PeerID: host.Peers.PeerID}
		mt := nagiostest.NewMerlin(t, shard)
		return eng.scheduler.Register(mt)
	}
	return eng.scheduler.Register(t)
}

func buildFilter(fs config.FilterSpec) (filters.Filter, error) {
	switch fs.Kind {
	case "threshold":
		return filters.Threshold{Warn: fs.Warn, Crit: fs.Crit, HigherIsWorse: fs.HigherIsWorse}, nil
	case "default":
		return filters.Default{Value: fs.Default}, nil
	case "regex":
		return filters.Regex{Pattern: fs.Pattern, Invert: fs.Invert}, nil
	case "xpath":
		x := filters.XPath{Expr: fs.XPath}
		if fs.XPathDefault != nil {
			x.Default = *fs.XPathDefault
			x.HasDefault = true
		}
		return x, nil
	default:
		return nil, fmt.Errorf("unknown filter kind %q", fs.Kind)
	}
}

// buildQueryConfig translates the raw YAML query spec into the concrete
// query.Config the matching driver expects. host.Address is used as a
// fallback target for TCP/SSL queries that leave Address unset and SNMP
// queries that leave Host unset, so a host-level address doesn't have to
// be repeated on every test. HTTP queries use their URL as given.
func buildQueryConfig(qs config.QuerySpec, host config.HostSpec, repeat, timeout time.Duration) (query.Config, error) {
	switch query.Kind(qs.Kind) {
	case query.KindHTTP, query.KindHTTPS:
		return query.HTTPConfig{
			Name:            qs.Kind + ":" + host.Name,
			URL:             qs.URL,
			Method:          qs.Method,
			Headers:         qs.Headers,
			Body:            qs.Body,
			ExpectSubstring: "",
			InsecureTLS:     qs.TLS,
			Repeat:          repeat,
			Timeout:         timeout,
		}, nil
	case query.KindTCP, query.KindSSL:
		addr := qs.Address
		if addr == "" {
			addr = host.Address
		}
		return query.TCPConfig{
			Name:        "tcp:" + host.Name,
			Address:     addr,
			TLS:         qs.TLS,
			InsecureTLS: qs.TLS,
			Send:        qs.Send,
			Repeat:      repeat,
			Timeout:     timeout,
		}, nil
	case query.KindSubprocess:
		return query.SubprocessConfig{
			Name:    "exec:" + host.Name,
			Command: qs.Command,
			Env:     qs.Env,
			Repeat:  repeat,
			Timeout: timeout,
		}, nil
	case query.KindSNMP:
		snmpHost := qs.Host
		if snmpHost == "" {
			snmpHost = host.Address
		}
		return query.SNMPConfig{
			Name:      "snmp:" + host.Name,
			Host:      snmpHost,
			Port:      qs.Port,
			Community: qs.Community,
			Version:   gosnmp.Version2c,
			OID:       qs.OID,
			OIDBase:   qs.OIDBase,
			OIDKey:    qs.OIDKey,
			Key:       qs.Key,
			Repeat:    repeat,
			Timeout:   timeout,
		}, nil
	case query.KindNoop:
		return query.NoopConfig{Name: "noop:" + host.Name, Data: qs.Data, Repeat: repeat}, nil
	default:
		return nil, fmt.Errorf("unknown query kind %q", qs.Kind)
	}
}
