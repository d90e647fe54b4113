// Package routing matches inbound requests against the catalog entries of
// one configuration snapshot.
//
// Every path of an entry is a template where {name} segments match a
// single, non-empty path segment. Templates are compiled to anchored
// regular expressions once per snapshot table and shared across all
// entries that declare the same template, so repeated requests during a
// snapshot's lifetime pay no recompilation cost. The compiled set is
// dropped wholesale with the table when the snapshot is evicted.
package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/edgegate/edgegate/catalog"
)

// rx identifying {name} parameters inside a path template
var paramRx = regexp.MustCompile(`\{[^/{}]*\}`)

type template struct {
	rx     *regexp.Regexp
	params []string
}

// Table is the matchable form of one snapshot: the parsed entries plus
// the compiled patterns of their path templates. A table is immutable
// after construction.
type Table struct {
	ID        string
	Entries   []*catalog.Entry
	templates map[string]*template
}

// NewTable compiles the path templates of all entries. A template that
// does not compile is a configuration defect and fails the whole table,
// the caller treats it the same way as malformed catalog data.
func NewTable(id string, entries []*catalog.Entry) (*Table, error) {
	t := &Table{
		ID:        id,
		Entries:   entries,
		templates: make(map[string]*template),
	}

	for _, e := range entries {
		for i := range e.Paths {
			full := fullPath(&e.Paths[i])
			if _, ok := t.templates[full]; ok {
				continue
			}

			tmpl, err := compileTemplate(full)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", id, err)
			}
			t.templates[full] = tmpl
		}
	}

	return t, nil
}

func (t *Table) template(p *catalog.PathEntry) *template {
	return t.templates[fullPath(p)]
}

func fullPath(p *catalog.PathEntry) string {
	base := strings.TrimSuffix(p.BasePath, "/")
	path := p.Path
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	if full := base + path; full != "/" {
		return strings.TrimSuffix(full, "/")
	}
	return "/"
}

// compileTemplate turns a path template into an anchored pattern. Every
// {name} placeholder matches exactly one non-empty segment, everything
// else is matched literally.
func compileTemplate(full string) (*template, error) {
	var (
		sb     strings.Builder
		params []string
		last   int
	)

	sb.WriteByte('^')
	for _, loc := range paramRx.FindAllStringIndex(full, -1) {
		sb.WriteString(regexp.QuoteMeta(full[last:loc[0]]))
		sb.WriteString("([^/]+)")
		params = append(params, strings.Trim(full[loc[0]:loc[1]], "{}"))
		last = loc[1]
	}
	sb.WriteString(regexp.QuoteMeta(full[last:]))
	sb.WriteByte('$')

	rx, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to compile path template %q: %w", full, err)
	}

	return &template{rx: rx, params: params}, nil
}

// templateScore derives a specificity score from a template: the number
// of wildcard segments. Lower is more specific, a fully literal path
// scores zero.
func templateScore(full string) int {
	score := 0
	for _, seg := range strings.Split(full, "/") {
		if strings.Contains(seg, "{") {
			score++
		}
	}
	return score
}
