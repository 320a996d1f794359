package ingress

import (
	"strings"
)

// Table is an immutable routing table. It is replaced as a whole on reload
// and never edited in place.
type Table struct {
	routes   []Route
	prefixes []string // normalized, parallel to routes
}

// NewTable builds a table from routes in registration order.
func NewTable(routes []Route) *Table {
	t := &Table{
		routes:   make([]Route, len(routes)),
		prefixes: make([]string, len(routes)),
	}
	copy(t.routes, routes)
	for i := range t.routes {
		t.prefixes[i] = normalizePrefix(t.routes[i].PathPrefix)
	}
	return t
}

func normalizePrefix(p string) string {
	return strings.TrimRight(p, "/")
}

// NormalizedPrefix returns the prefix used for matching: PathPrefix without
// trailing slashes. The catch-all route normalizes to "".
func (r Route) NormalizedPrefix() string {
	return normalizePrefix(r.PathPrefix)
}

// Match returns the route with the longest matching normalized prefix and the
// path suffix to forward. Among equal-length matches the earliest registered
// route wins.
func (t *Table) Match(path string) (Route, string, bool) {
	best := -1
	bestLen := -1
	for i, prefix := range t.prefixes {
		if !prefixMatches(prefix, path) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = i, len(prefix)
		}
	}
	if best < 0 {
		return Route{}, "", false
	}

	route := t.routes[best]
	suffix := path
	if route.StripPrefix {
		suffix = path[bestLen:]
		if suffix == "" {
			suffix = "/"
		}
	}
	return route, suffix, true
}

func prefixMatches(prefix, path string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Routes returns a copy of the routes in registration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// DuplicatePrefixes reports normalized prefixes shared by more than one route.
// Only the earliest registered of those routes is reachable.
func (t *Table) DuplicatePrefixes() []string {
	seen := make(map[string]int, len(t.prefixes))
	var dups []string
	for _, p := range t.prefixes {
		seen[p]++
		if seen[p] == 2 {
			dups = append(dups, p)
		}
	}
	return dups
}
