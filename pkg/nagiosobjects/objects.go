// Package nagiosobjects parses the object and config file formats Nagios
// itself generates: objects.cache/status.dat's "define <type> { }" and
// "<type>status { }" blocks, and nagios.cfg's flat "key=value" lines.
// These files are read once at startup, never written, and play no part
// in the scheduling loop -- they only seed the initial Test/Query
// configuration from an existing Nagios install.
package nagiosobjects

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Object is one parsed "define ... { }" or "...status { }" block: an
// unordered key/value bag, last-write-wins on duplicate keys within the
// block (matching a plain Go map assignment in the original's loop).
type Object map[string]string

// ObjectParser holds every parsed object, grouped by type.
type ObjectParser struct {
	objects map[string][]Object
}

// Select restricts which objects a ParseObjects call keeps: if a parsed
// object has a key present in Select, its value must equal (or be one of)
// the accepted values, or the whole object is discarded.
type Select map[string][]string

// ParseObjects reads r, keeping only the requested object types (an empty
// types list keeps every type encountered) and applying select as a
// block-level filter.
func ParseObjects(r io.Reader, types []string, sel Select) (*ObjectParser, error) {
	wantType := func(string) bool { return true }
	if len(types) > 0 {
		set := make(map[string]struct{}, len(types))
		for _, t := range types {
			set[t] = struct{}{}
		}
		wantType = func(t string) bool {
			_, ok := set[t]
			return ok
		}
	}

	p := &ObjectParser{objects: map[string][]Object{}}
	for _, t := range types {
		p.objects[t] = nil
	}

	scanner := bufio.NewScanner(r)

	var current Object
	var currentType string
	splitOnEquals := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if current == nil {
			switch {
			case strings.HasPrefix(line, "define") && strings.HasSuffix(line, "{"):
				currentType = strings.TrimSpace(line[len("define") : len(line)-1])
				splitOnEquals = false
			case strings.HasSuffix(line, "status {"):
				currentType = strings.TrimSpace(line[:len(line)-len("status {")])
				splitOnEquals = true
			default:
				continue
			}
			if currentType == "" {
				return nil, fmt.Errorf("nagiosobjects: block opened with empty type: %q", line)
			}
			if !wantType(currentType) {
				currentType = ""
				continue
			}
			current = Object{}
			continue
		}

		if line == "}" {
			p.objects[currentType] = append(p.objects[currentType], current)
			current = nil
			currentType = ""
			continue
		}

		key, value := splitAttr(line, splitOnEquals)
		if accepted, ok := sel[key]; ok && !contains(accepted, value) {
			current = nil
			currentType = ""
			continue
		}
		current[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseObjectsFile opens path and parses it with ParseObjects.
func ParseObjectsFile(path string, types []string, sel Select) (*ObjectParser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseObjects(f, types, sel)
}

func splitAttr(line string, onEquals bool) (key, value string) {
	if onEquals {
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return line, ""
		}
		return line[:idx], strings.TrimLeft(line[idx+1:], " \t")
	}
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 1 {
		// No literal space: fall back to any-whitespace split so tab-
		// separated attribute lines still parse.
		fields = strings.Fields(line)
		if len(fields) == 0 {
			return "", ""
		}
		if len(fields) == 1 {
			return fields[0], ""
		}
		return fields[0], strings.TrimLeft(strings.Join(fields[1:], " "), " \t")
	}
	return fields[0], strings.TrimLeft(fields[1], " \t")
}

func contains(values []string, v string) bool {
	for _, c := range values {
		if c == v {
			return true
		}
	}
	return false
}

// Objects returns every parsed object of the given type.
func (p *ObjectParser) Objects(objectType string) []Object {
	return p.objects[objectType]
}

// Has reports whether objectType appears in the parse result: either an
// object of that type was parsed, or the type was named in ParseObjects'
// types list, even if no object of it was found.
func (p *ObjectParser) Has(objectType string) bool {
	_, ok := p.objects[objectType]
	return ok
}

// Types lists every object type present in the parse result, including
// every type named in ParseObjects' types list.
func (p *ObjectParser) Types() []string {
	out := make([]string, 0, len(p.objects))
	for t := range p.objects {
		out = append(out, t)
	}
	return out
}

var configAttr = regexp.MustCompile(`^(\w+)\s*=\s*(.*)$`)

// ConfigParser parses the flat "key = value" grammar of nagios.cfg.
// Later occurrences of a key overwrite earlier ones, matching a plain
// map assignment over the file's lines in order.
type ConfigParser struct {
	values map[string]string
}

// ParseConfig reads r as a nagios.cfg-style file.
func ParseConfig(r io.Reader) (*ConfigParser, error) {
	c := &ConfigParser{values: map[string]string{}}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := configAttr.FindStringSubmatch(line); m != nil {
			c.values[m[1]] = m[2]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseConfigFile opens path and parses it with ParseConfig.
func ParseConfigFile(path string) (*ConfigParser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseConfig(f)
}

// Get returns the value for key and whether it was present.
func (c *ConfigParser) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys lists every key present in the config.
func (c *ConfigParser) Keys() []string {
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	return out
}
