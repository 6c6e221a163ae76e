package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"
)

// SNMPConfig requests a value from one host, either a single OID or, when
// OIDBase/OIDKey/Key are set instead, a value found by indirection: walk
// the OIDKey table looking for the row whose value equals Key, then read
// the sibling row at the same index under OIDBase. Every SNMPConfig
// sharing the same host/port/community/version is served by a single
// combined walker that fetches every accreted OID over one SNMP session
// per tick (batched Gets for single OIDs, one walk per table root),
// instead of one session per leaf query.
type SNMPConfig struct {
	Name      string
	Host      string
	Port      uint16
	Community string
	Version   gosnmp.SnmpVersion
	OID       string
	OIDBase   string
	OIDKey    string
	Key       string
	Repeat    time.Duration
	Timeout   time.Duration
}

func (c SNMPConfig) Kind() Kind { return KindSNMP }

// indexed reports whether this config uses the oid_base/oid_key/key
// indirection form instead of a plain single oid.
func (c SNMPConfig) indexed() bool { return c.OID == "" }

func (c SNMPConfig) Fingerprint() string {
	if !c.indexed() {
		return joinFields(string(KindSNMP), c.targetKey(), "oid", normalizeOID(c.OID))
	}
	return joinFields(string(KindSNMP), c.targetKey(), "oidset", normalizeOID(c.OIDBase), normalizeOID(c.OIDKey), c.Key)
}

func (c SNMPConfig) targetKey() string {
	return joinFields(c.Host, strconv.Itoa(int(c.Port)), c.Community, strconv.Itoa(int(c.Version)))
}

// normalizeOID collapses equivalent textual OID forms (leading dot or
// not, stray whitespace) onto one canonical dotted form, so that e.g.
// ".1.3.6.1.2.1.1.1.0" and "1.3.6.1.2.1.1.1.0" fingerprint identically.
func normalizeOID(oid string) string {
	oid = strings.TrimSpace(oid)
	if oid == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(oid, "."), ".")
	return "." + strings.Join(parts, ".")
}

// combinedState holds the set of OIDs accreted from every leaf query
// against one target, and the values fetched by the last walk. oids are
// fetched with an exact GET (single-instance values); walkRoots are
// fetched with a table WALK (oid_base/oid_key indirection, which needs
// every row under the root, not just the root itself).
type combinedState struct {
	mu        sync.Mutex
	oids      map[string]struct{}
	walkRoots map[string]struct{}
	values    map[string]string
}

func newCombinedState() *combinedState {
	return &combinedState{oids: map[string]struct{}{}, walkRoots: map[string]struct{}{}, values: map[string]string{}}
}

func (s *combinedState) addOID(oid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oids[oid] = struct{}{}
}

func (s *combinedState) addWalkRoot(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walkRoots[root] = struct{}{}
}

func (s *combinedState) oidList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.oids))
	for o := range s.oids {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

func (s *combinedState) walkRootList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.walkRoots))
	for o := range s.walkRoots {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

func (s *combinedState) get(oid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[oid]
	return v, ok
}

// snapshot returns a copy of the full oid->value map from the last walk,
// for callers that need to scan/filter by prefix rather than look up one
// exact oid (the oid_base/oid_key indirection).
func (s *combinedState) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *combinedState) setAll(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
}

type combinedEntry struct {
	base  *runnable.Base
	state *combinedState
}

// combinedBody performs the shared fetch per tick over one gosnmp
// session: Get requests of at most 60 OIDs each for every exact OID any
// dependent has registered so far, then one walk per registered table root.
type combinedBody struct {
	host      string
	port      uint16
	community string
	version   gosnmp.SnmpVersion
	state     *combinedState
}

func (b *combinedBody) Run(ctx context.Context) runnable.Result {
	oids := b.state.oidList()
	roots := b.state.walkRootList()
	if len(oids) == 0 && len(roots) == 0 {
		return runnable.Result{Value: "no oids registered"}
	}

	client := &gosnmp.GoSNMP{
		Target:    b.host,
		Port:      b.port,
		Community: b.community,
		Version:   b.version,
		Timeout:   2 * time.Second,
		Retries:   1,
	}
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			client.Timeout = remaining
		}
	}

	if err := client.Connect(); err != nil {
		return runnable.Result{Err: &runnable.Failure{
			Kind:    runnable.TestCritical,
			Message: fmt.Sprintf("snmp connect to %s: %v", b.host, err),
		}}
	}
	defer client.Conn.Close()

	values := make(map[string]string, len(oids)+len(roots))

	const maxPerGet = 60
	for start := 0; start < len(oids); start += maxPerGet {
		end := start + maxPerGet
		if end > len(oids) {
			end = len(oids)
		}
		packet, err := client.Get(oids[start:end])
		if err != nil {
			return runnable.Result{Err: &runnable.Failure{
				Kind:    runnable.TestCritical,
				Message: fmt.Sprintf("snmp get on %s: %v", b.host, err),
				Partial: fmt.Sprintf("%d of %d oids fetched", len(values), len(oids)+len(roots)),
			}}
		}
		for _, pdu := range packet.Variables {
			values[pdu.Name] = fmt.Sprintf("%v", pdu.Value)
		}
	}

	for _, root := range roots {
		walker := client.WalkAll
		if b.version == gosnmp.Version2c || b.version == gosnmp.Version3 {
			walker = client.BulkWalkAll
		}
		pdus, err := walker(root)
		if err != nil {
			return runnable.Result{Err: &runnable.Failure{
				Kind:    runnable.TestCritical,
				Message: fmt.Sprintf("snmp walk of %s on %s: %v", root, b.host, err),
				Partial: fmt.Sprintf("%d of %d oids fetched", len(values), len(oids)+len(roots)),
			}}
		}
		for _, pdu := range pdus {
			values[pdu.Name] = fmt.Sprintf("%v", pdu.Value)
		}
	}

	b.state.setAll(values)
	return runnable.Result{Value: fmt.Sprintf("%d oids", len(values))}
}

type snmpLeafBody struct {
	cfg   SNMPConfig
	state *combinedState
}

func (b *snmpLeafBody) Run(ctx context.Context) runnable.Result {
	if !b.cfg.indexed() {
		v, ok := b.state.get(normalizeOID(b.cfg.OID))
		if !ok {
			return runnable.Result{Err: &runnable.Failure{
				Kind:    runnable.TestCritical,
				Message: "No value received",
			}}
		}
		return runnable.Result{Value: v}
	}
	return b.resolveIndexed()
}

// resolveIndexed implements the oid_base/oid_key/key indirection: find
// the row in the oid_key table whose value equals Key, then read the
// sibling row at the same index under OIDBase. Mirrors
// nagcat.query.Query_snmp._get_result_set.
func (b *snmpLeafBody) resolveIndexed() runnable.Result {
	base := normalizeOID(b.cfg.OIDBase)
	keyRoot := normalizeOID(b.cfg.OIDKey)
	values := b.state.snapshot()

	baseEntries := filterOIDPrefix(values, base)
	if len(baseEntries) == 0 {
		return runnable.Result{Err: &runnable.Failure{Kind: runnable.TestCritical, Message: "No values received for oid_base"}}
	}
	keyEntries := filterOIDPrefix(values, keyRoot)
	if len(keyEntries) == 0 {
		return runnable.Result{Err: &runnable.Failure{Kind: runnable.TestCritical, Message: "No values received for oid_key"}}
	}

	var index string
	found := false
	for oid, v := range keyEntries {
		if v == b.cfg.Key {
			index = strings.TrimPrefix(oid, keyRoot)
			found = true
			break
		}
	}
	if !found {
		return runnable.Result{Err: &runnable.Failure{Kind: runnable.TestCritical, Message: fmt.Sprintf("key not found: %q", b.cfg.Key)}}
	}

	final := base + index
	v, ok := baseEntries[final]
	if !ok {
		return runnable.Result{Err: &runnable.Failure{Kind: runnable.TestCritical, Message: "No value received"}}
	}
	return runnable.Result{Value: v}
}

// filterOIDPrefix returns the subset of values whose oid key starts with
// root, mirroring nagcat's filter_result helper.
func filterOIDPrefix(values map[string]string, root string) map[string]string {
	out := map[string]string{}
	for oid, v := range values {
		if strings.HasPrefix(oid, root) {
			out[oid] = v
		}
	}
	return out
}

func init() {
	register(KindSNMP, func(reg *Registry, cfg Config, clk clock.Clock, logger zerolog.Logger) (*runnable.Base, error) {
		c := cfg.(SNMPConfig)

		entryAny := reg.stash("snmp-combined:"+c.targetKey(), func() any {
			state := newCombinedState()
			body := &combinedBody{host: c.Host, port: c.Port, community: c.Community, version: c.Version, state: state}
			base := runnable.NewBase("snmp-combined:"+c.Host, c.Repeat, c.Timeout, body, clk, logger).SetCategory("Query")
			return &combinedEntry{base: base, state: state}
		})
		entry := entryAny.(*combinedEntry)
		if c.indexed() {
			if c.OIDBase == "" || c.OIDKey == "" || c.Key == "" {
				return nil, fmt.Errorf("snmp query %s: oid, or oid_base+oid_key+key, are required", c.Name)
			}
			entry.state.addWalkRoot(normalizeOID(c.OIDBase))
			entry.state.addWalkRoot(normalizeOID(c.OIDKey))
		} else {
			if c.OIDBase != "" || c.OIDKey != "" || c.Key != "" {
				return nil, fmt.Errorf("snmp query %s: oid cannot be used with oid_base, oid_key, and key", c.Name)
			}
			entry.state.addOID(normalizeOID(c.OID))
		}

		leaf := runnable.NewBase("snmp:"+c.Name, c.Repeat, c.Timeout, &snmpLeafBody{cfg: c, state: entry.state}, clk, logger).SetCategory("Query")
		if err := leaf.AddDependency(entry.base); err != nil {
			return nil, err
		}
		return leaf, nil
	})
}
