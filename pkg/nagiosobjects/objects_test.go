package nagiosobjects

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectsDefineBlock(t *testing.T) {
	in := `
define host {
	host_name   web1
	address     10.0.0.1
}
define service {
	service_description ping
	host_name   web1
}
`
	p, err := ParseObjects(strings.NewReader(in), nil, nil)
	require.NoError(t, err)

	hosts := p.Objects("host")
	require.Len(t, hosts, 1)
	assert.Equal(t, "web1", hosts[0]["host_name"])
	assert.Equal(t, "10.0.0.1", hosts[0]["address"])

	services := p.Objects("service")
	require.Len(t, services, 1)
	assert.Equal(t, "ping", services[0]["service_description"])
}

func TestParseObjectsStatusBlock(t *testing.T) {
	in := `
hoststatus {
	host_name=web1
	current_state=0
}
`
	p, err := ParseObjects(strings.NewReader(in), nil, nil)
	require.NoError(t, err)

	st := p.Objects("host")
	require.Len(t, st, 1)
	assert.Equal(t, "web1", st[0]["host_name"])
	assert.Equal(t, "0", st[0]["current_state"])
}

func TestParseObjectsTypeFilterDropsUnwantedBlocks(t *testing.T) {
	in := `
define host {
	host_name web1
}
define service {
	service_description ping
}
`
	p, err := ParseObjects(strings.NewReader(in), []string{"host"}, nil)
	require.NoError(t, err)

	assert.Len(t, p.Objects("host"), 1)
	assert.False(t, p.Has("service"))
}

func TestParseObjectsSelectDiscardsNonMatchingBlock(t *testing.T) {
	in := `
define host {
	host_name web1
	check_command check-host-alive
}
define host {
	host_name web2
	check_command check-other
}
`
	sel := Select{"check_command": {"check-host-alive"}}
	p, err := ParseObjects(strings.NewReader(in), nil, sel)
	require.NoError(t, err)

	hosts := p.Objects("host")
	require.Len(t, hosts, 1)
	assert.Equal(t, "web1", hosts[0]["host_name"])
}

func TestParseObjectsDuplicateKeyLastWriteWins(t *testing.T) {
	in := `
define host {
	host_name web1
	host_name web1-renamed
}
`
	p, err := ParseObjects(strings.NewReader(in), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "web1-renamed", p.Objects("host")[0]["host_name"])
}

func TestParseObjectsSkipsBlankAndUnknownLinesOutsideBlocks(t *testing.T) {
	in := `
# a comment
garbage line

define host {
	host_name web1
}
`
	p, err := ParseObjects(strings.NewReader(in), nil, nil)
	require.NoError(t, err)
	assert.Len(t, p.Objects("host"), 1)
}

func TestParseConfigLastOccurrenceWins(t *testing.T) {
	in := "log_file=/var/log/nagios.log\nmax_concurrent_checks = 200\nlog_file=/var/log/other.log\n"
	c, err := ParseConfig(strings.NewReader(in))
	require.NoError(t, err)

	v, ok := c.Get("log_file")
	require.True(t, ok)
	assert.Equal(t, "/var/log/other.log", v)

	v, ok = c.Get("max_concurrent_checks")
	require.True(t, ok)
	assert.Equal(t, "200", v)
}

func TestParseConfigIgnoresUnmatchedLines(t *testing.T) {
	in := "# comment\nnot a config line\nkey=value\n"
	c, err := ParseConfig(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, c.Keys(), 1)
}
