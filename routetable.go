package fathom

import (
	"net/http"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// methodBucket is the set of response declarations sharing one (host,
// method, path). Its query matcher is compiled once, when the table is
// frozen, and is read-only thereafter.
type methodBucket struct {
	method       string
	declarations []*declaration
	matcher      *queryMatcher // nil until compiled; nil forever for a lone static declaration
}

// pathNode is one node of a host's path-segment trie. There are no
// parameter or wildcard path components: dynamic values arrive through the
// structured query, never through path segments, so the trie only ever
// branches on exact segment equality.
type pathNode struct {
	children map[string]*pathNode
	buckets  map[string]*methodBucket // keyed by HTTP method
	// trailingBuckets holds declarations registered with
	// StrictTrailingSlash for this same logical path, kept separate from
	// buckets so the default (collapsing) lookup and the strict lookup
	// never interfere.
	trailingBuckets map[string]*methodBucket
}

func newPathNode() *pathNode {
	return &pathNode{children: map[string]*pathNode{}}
}

// hostTable holds every path trie reachable under one endpoint, bucketed
// by how the host is matched.
type hostTable struct {
	exact     map[string]*pathNode
	wildcards []wildcardEntry
	any       *pathNode
}

type wildcardEntry struct {
	optionalSubdomain string
	base              string
	node              *pathNode
}

func newHostTable() *hostTable {
	return &hostTable{exact: map[string]*pathNode{}}
}

// routeTable is the top-level registry, keyed by endpoint.
type routeTable struct {
	byEndpoint map[string]*hostTable // keyed by endpoint.Address+":"+endpoint.Port
	running    bool
}

func newRouteTable() *routeTable {
	return &routeTable{byEndpoint: map[string]*hostTable{}}
}

func endpointKey(ep endpoint) string {
	return ep.Address + ":" + ep.Port
}

// insert registers decl into the table for every (endpoint, host) pair
// implied by its context, under its declared method(s) and path.
func (rt *routeTable) insert(decl *declaration) error {
	if rt.running {
		return configErrorf(decl.ctx.pathPrefix, "cannot insert a route after the server has started running")
	}

	path := decl.ctx.pathPrefix + decl.subPath

	endpoints := decl.ctx.endpoints
	if len(endpoints) == 0 {
		endpoints = []endpoint{{Address: "0.0.0.0", Port: "8080", Protocols: []string{"http/1.1", "h2"}}}
	}

	hosts := decl.ctx.hosts
	if len(hosts) == 0 {
		hosts = []hostRule{{any: true}}
	}

	for _, ep := range endpoints {
		ht, ok := rt.byEndpoint[endpointKey(ep)]
		if !ok {
			ht = newHostTable()
			rt.byEndpoint[endpointKey(ep)] = ht
		}

		for _, hr := range hosts {
			node, err := ht.resolveNode(hr, path)
			if err != nil {
				return err
			}

			if err := insertIntoNode(node, decl, path); err != nil {
				return err
			}
		}
	}

	return nil
}

// resolveNode returns (creating if necessary) the path-trie root for hr,
// keeping wildcard rules in deterministic insertion order.
func (ht *hostTable) resolveNode(hr hostRule, path string) (*pathNode, error) {
	switch {
	case hr.any:
		if ht.any == nil {
			ht.any = newPathNode()
		}
		return ht.any, nil

	case hr.optionalSubdomain != "":
		for _, w := range ht.wildcards {
			if w.optionalSubdomain == hr.optionalSubdomain && w.base == hr.base {
				return w.node, nil
			}
		}
		node := newPathNode()
		ht.wildcards = append(ht.wildcards, wildcardEntry{
			optionalSubdomain: hr.optionalSubdomain,
			base:              hr.base,
			node:              node,
		})
		return node, nil

	default:
		host := normalizeHost(hr.exact)
		node, ok := ht.exact[host]
		if !ok {
			node = newPathNode()
			ht.exact[host] = node
		}
		return node, nil
	}
}

// insertIntoNode walks segs into the trie rooted at root, creating nodes as
// needed, then records decl in the terminal node's method bucket(s).
func insertIntoNode(root *pathNode, decl *declaration, path string) error {
	segs := splitPath(path)

	node := root
	for _, seg := range segs {
		child, ok := node.children[seg]
		if !ok {
			child = newPathNode()
			node.children[seg] = child
		}
		node = child
	}

	buckets := node.buckets
	if decl.trailingSlash == StrictTrailingSlash {
		if node.trailingBuckets == nil {
			node.trailingBuckets = map[string]*methodBucket{}
		}
		buckets = node.trailingBuckets
	} else if node.buckets == nil {
		node.buckets = map[string]*methodBucket{}
		buckets = node.buckets
	}

	for _, method := range decl.methods {
		b, ok := buckets[method]
		if !ok {
			b = &methodBucket{method: method}
			buckets[method] = b
		}

		if decl.kind == kindStatic && len(b.declarations) > 0 {
			return configErrorf(path, "method %s already has a static declaration registered", method)
		}

		if decl.kind == kindDynamic {
			for _, existing := range b.declarations {
				if existing.kind == kindStatic {
					return configErrorf(path, "method %s mixes a static and a dynamic declaration", method)
				}
			}
		}

		b.declarations = append(b.declarations, decl)
	}

	return nil
}

// compile finalizes the table: compiles every bucket's query matcher and
// marks the table read-only.
func (rt *routeTable) compile() error {
	for _, ht := range rt.byEndpoint {
		nodes := []*pathNode{}
		for _, n := range ht.exact {
			nodes = append(nodes, n)
		}
		for _, w := range ht.wildcards {
			nodes = append(nodes, w.node)
		}
		if ht.any != nil {
			nodes = append(nodes, ht.any)
		}

		for _, n := range nodes {
			if err := compileNode(n); err != nil {
				return err
			}
		}
	}

	rt.running = true

	return nil
}

func compileNode(n *pathNode) error {
	for _, b := range n.buckets {
		if err := compileBucket(b); err != nil {
			return err
		}
	}
	for _, b := range n.trailingBuckets {
		if err := compileBucket(b); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if err := compileNode(c); err != nil {
			return err
		}
	}
	return nil
}

func compileBucket(b *methodBucket) error {
	if len(b.declarations) == 1 && b.declarations[0].kind == kindStatic {
		return nil
	}

	qm, err := compileQueryMatcher(b.method, b.declarations)
	if err != nil {
		return err
	}
	b.matcher = qm
	return nil
}

// lookupResult is what a routeTable.lookup call reports.
type lookupResult struct {
	node *pathNode
	// methodMiss is true when the path matched a node but not the
	// requested method, triggering 405 semantics.
	methodMiss bool
	// allowed lists the methods available at the matched node, used to
	// build the Allow header on a 405.
	allowed []string
}

// lookup resolves (host, method, path) to a routing outcome.
func (rt *routeTable) lookup(ep endpoint, host, method, path string, strictSlash bool) (*methodBucket, *lookupResult) {
	ht := rt.tableFor(ep)
	if ht == nil {
		return nil, nil
	}

	node := ht.matchHost(host)
	if node == nil {
		return nil, nil
	}

	segs := splitPath(path)
	for _, seg := range segs {
		child, ok := node.children[seg]
		if !ok {
			return nil, nil
		}
		node = child
	}

	buckets := node.buckets
	if strictSlash {
		buckets = node.trailingBuckets
	}

	if buckets == nil {
		return nil, nil
	}

	effectiveMethod := method
	if method == http.MethodHead {
		if _, ok := buckets[http.MethodHead]; !ok {
			effectiveMethod = http.MethodGet
		}
	}

	if b, ok := buckets[effectiveMethod]; ok {
		return b, nil
	}

	if method == http.MethodOptions {
		return nil, &lookupResult{node: node, allowed: allowedMethods(buckets)}
	}

	return nil, &lookupResult{node: node, methodMiss: true, allowed: allowedMethods(buckets)}
}

// tableFor resolves the host table the request's endpoint belongs to.
// Declarations bound to the unspecified address answer on any local address
// with the same port, and a single-endpoint table answers regardless, since
// ServeHTTP driven outside Serve (tests, a user-owned http.Server) has no
// reliable bound address to offer.
func (rt *routeTable) tableFor(ep endpoint) *hostTable {
	if ht, ok := rt.byEndpoint[endpointKey(ep)]; ok {
		return ht
	}

	if ep.Port != "" {
		if ht, ok := rt.byEndpoint["0.0.0.0:"+ep.Port]; ok {
			return ht
		}
		if ht, ok := rt.byEndpoint[":::"+ep.Port]; ok {
			return ht
		}
	}

	if len(rt.byEndpoint) == 1 {
		for _, ht := range rt.byEndpoint {
			return ht
		}
	}

	return nil
}

func allowedMethods(buckets map[string]*methodBucket) []string {
	ms := make([]string, 0, len(buckets)+1)
	hasGet := false
	for m := range buckets {
		ms = append(ms, m)
		if m == http.MethodGet {
			hasGet = true
		}
	}
	if hasGet {
		if _, ok := buckets[http.MethodHead]; !ok {
			ms = append(ms, http.MethodHead)
		}
	}
	ms = append(ms, http.MethodOptions)
	sort.Strings(ms)
	return ms
}

// matchHost tries an exact match first, then each wildcard rule in
// insertion order, then the any-host table.
func (ht *hostTable) matchHost(host string) *pathNode {
	host = normalizeHost(host)

	if n, ok := ht.exact[host]; ok {
		return n
	}

	for _, w := range ht.wildcards {
		base := normalizeHost(w.base)
		if host == base || host == w.optionalSubdomain+"."+base {
			return w.node
		}
	}

	return ht.any
}

// normalizeHost strips a port suffix and lower-cases/punycode-normalizes
// the host, so Unicode and ASCII forms of one domain land on the same
// table entry.
func normalizeHost(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		// Only strip if what follows looks like a port (digits), so
		// IPv6 literals without a bracketed port are left alone.
		if isAllDigits(host[i+1:]) {
			host = host[:i]
		}
	}

	host = strings.ToLower(host)

	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}

	return host
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// splitPath normalizes a URL path to a sequence of percent-decoded UTF-8
// segments. Empty segments collapse.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		segs = append(segs, percentDecode(p))
	}
	return segs
}

// hasTrailingSlash reports whether the raw (pre-split) path ends with a
// trailing slash and is not just "/".
func hasTrailingSlash(path string) bool {
	return len(path) > 1 && strings.HasSuffix(path, "/")
}

// percentDecode decodes a single path segment per RFC 3986. Malformed
// escapes are left as-is rather than rejected, matching how most routers
// degrade gracefully on noise in the path.
func percentDecode(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// parseRawQuery splits a raw query string into ordered name/value items
// per application/x-www-form-urlencoded.
func parseRawQuery(raw string) []rawQueryItem {
	if raw == "" {
		return nil
	}

	var items []rawQueryItem
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}

		name := pair
		value := ""
		if i := strings.IndexByte(pair, '='); i >= 0 {
			name, value = pair[:i], pair[i+1:]
		}

		items = append(items, rawQueryItem{
			name:  formDecode(name),
			value: formDecode(value),
		})
	}

	return items
}

// formDecode decodes a application/x-www-form-urlencoded component: '+'
// becomes a space, then percent-decoding applies.
func formDecode(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	return percentDecode(s)
}
