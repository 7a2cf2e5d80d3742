package fathom

import (
	"fmt"
	"sort"
	"strings"
)

// matchOutcome is the result of a query-matcher pass: zero surviving
// declarations is no-match, one is a unique match, two or more is
// ambiguous.
type matchOutcome uint8

const (
	outcomeNoMatch matchOutcome = iota
	outcomeUnique
	outcomeAmbiguous

	// outcomeInvalid is a zero-match pass in which at least one
	// candidate was evicted by a value-parser failure: the request named
	// a declared item but its value was unusable, which is a 400 rather
	// than the 404 an unknown name earns.
	outcomeInvalid
)

// rawQueryItem is one name=value pair parsed out of a request's query
// string, in the order it appeared.
type rawQueryItem struct {
	name  string
	value string
}

// candidateRef is one (declaration, descriptor) pair the compiled matcher
// looks up by item name during the request-time pass.
type candidateRef struct {
	declIndex  int
	descriptor *QueryItemDescriptor
	// requiredBit is the bit this descriptor occupies in its owning
	// declaration's required-mask, or 0 if the descriptor is not
	// required.
	requiredBit uint64
}

// compiledDecl is the per-declaration compile-time state baked into a
// queryMatcher.
type compiledDecl struct {
	decl *declaration

	// names is the set of descriptor names this declaration owns,
	// excluding the raw descriptor.
	names map[string]*QueryItemDescriptor

	hasRaw bool

	requiredMask uint64
}

// queryMatcher is the compiled, single-pass disambiguator for the bucket
// of declarations sharing one (host, method, path).
type queryMatcher struct {
	declarations []*compiledDecl
	byName       map[string][]candidateRef
	rawDeclIndex int // -1 if no declaration in the bucket has a raw descriptor
}

// compileQueryMatcher compiles decls (all belonging to the same bucket)
// into a queryMatcher. Structural problems like duplicate names, a
// raw-query declaration sharing a bucket, or indistinguishable
// declarations surface here, at start-up, never at request time.
func compileQueryMatcher(path string, decls []*declaration) (*queryMatcher, error) {
	qm := &queryMatcher{
		byName:       map[string][]candidateRef{},
		rawDeclIndex: -1,
	}

	for i, d := range decls {
		cd := &compiledDecl{decl: d, names: map[string]*QueryItemDescriptor{}}

		if d.rawQuery {
			cd.hasRaw = true
			if qm.rawDeclIndex != -1 {
				return nil, configErrorf(path, "more than one declaration declares an unnamed raw query descriptor")
			}
			qm.rawDeclIndex = i
			if len(decls) > 1 {
				return nil, configErrorf(path, "a raw-query declaration cannot share a bucket with other declarations")
			}
		}

		var bit uint64 = 1
		for _, qd := range d.queryItems {
			if _, dup := cd.names[qd.Name]; dup {
				return nil, configErrorf(path, "duplicate query item name %q in one declaration", qd.Name)
			}

			cd.names[qd.Name] = qd

			ref := candidateRef{declIndex: i, descriptor: qd}
			if qd.Arity == Required {
				ref.requiredBit = bit
				cd.requiredMask |= bit
				bit <<= 1
			}

			qm.byName[qd.Name] = append(qm.byName[qd.Name], ref)
		}

		qm.declarations = append(qm.declarations, cd)
	}

	if err := checkBucketDistinguishable(path, qm); err != nil {
		return nil, err
	}

	return qm, nil
}

// checkBucketDistinguishable rejects buckets holding two declarations
// whose descriptor signatures (name plus arity) are identical: every item
// list matching one then matches the other, so no query could ever tell
// them apart. Declarations that merely overlap on some queries (both
// matching the empty list, say) stay legal; the overlap surfaces at
// request time as the ambiguous outcome.
func checkBucketDistinguishable(path string, qm *queryMatcher) error {
	seen := map[string]bool{}
	for _, cd := range qm.declarations {
		if cd.hasRaw {
			continue
		}

		names := make([]string, 0, len(cd.names))
		for name, qd := range cd.names {
			names = append(names, fmt.Sprintf("%s/%d", name, qd.Arity))
		}
		sort.Strings(names)

		sig := strings.Join(names, ",")
		if seen[sig] {
			return configErrorf(path, "two declarations share the exact query descriptor signature {%s}; no query can distinguish them", sig)
		}
		seen[sig] = true
	}

	return nil
}

// match runs the compiled dispatcher over items, iterating the list
// exactly once.
func (qm *queryMatcher) match(items []rawQueryItem) (int, map[string]interface{}, matchOutcome) {
	n := len(qm.declarations)

	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	satisfied := make([]uint64, n)
	seen := make([]map[string]bool, n)
	values := make([]map[string]interface{}, n)
	for i := range values {
		seen[i] = map[string]bool{}
		values[i] = map[string]interface{}{}
	}

	parseFailed := false

	for _, item := range items {
		cands, known := qm.byName[item.name]

		if !known {
			// Unknown name: evict all candidates except the one
			// owning an unnamed raw descriptor.
			for i := range alive {
				if i != qm.rawDeclIndex {
					alive[i] = false
				}
			}
			continue
		}

		ownedBy := map[int]bool{}
		for _, cand := range cands {
			ownedBy[cand.declIndex] = true

			if !alive[cand.declIndex] {
				continue
			}

			if seen[cand.declIndex][item.name] {
				// Duplicate occurrence of a non-repeatable
				// name is match failure.
				alive[cand.declIndex] = false
				continue
			}

			val, err := cand.descriptor.Parse(item.value)
			if err != nil {
				alive[cand.declIndex] = false
				parseFailed = true
				continue
			}

			values[cand.declIndex][item.name] = val
			seen[cand.declIndex][item.name] = true
			satisfied[cand.declIndex] |= cand.requiredBit
		}

		// Any still-alive declaration that does not own this item's
		// name, and has no raw descriptor, fails to match it.
		for i, cd := range qm.declarations {
			if !alive[i] || ownedBy[i] || cd.hasRaw {
				continue
			}
			alive[i] = false
		}
	}

	var matches []int
	for i, cd := range qm.declarations {
		if !alive[i] {
			continue
		}

		if satisfied[i] != cd.requiredMask {
			continue
		}

		matches = append(matches, i)
	}

	switch len(matches) {
	case 0:
		if parseFailed {
			return -1, nil, outcomeInvalid
		}
		return -1, nil, outcomeNoMatch
	case 1:
		idx := matches[0]
		resolved := resolveDefaults(qm.declarations[idx].decl, values[idx])
		if qm.declarations[idx].hasRaw {
			resolved = map[string]interface{}{"*": items}
		}
		return idx, resolved, outcomeUnique
	default:
		return -1, nil, outcomeAmbiguous
	}
}

// resolveDefaults fills in default values for optional descriptors that
// were not present in the query.
func resolveDefaults(d *declaration, values map[string]interface{}) map[string]interface{} {
	for _, qd := range d.queryItems {
		if _, ok := values[qd.Name]; ok {
			continue
		}

		if qd.Arity == Optional || qd.Arity == Bool {
			values[qd.Name] = qd.Default
		}
	}

	return values
}

// Common value parsers for query-item descriptors.

// ParseString is the identity `ValueParser`.
func ParseString(raw string) (interface{}, error) {
	return raw, nil
}

// ParseInt parses raw as a base-10 signed integer.
func ParseInt(raw string) (interface{}, error) {
	var v int64
	var neg bool
	s := raw
	if s == "" {
		return nil, fmt.Errorf("fathom: empty integer")
	}
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return nil, fmt.Errorf("fathom: empty integer")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("fathom: invalid integer %q", raw)
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		v = -v
	}
	return int(v), nil
}

// ParseUint parses raw as a base-10 unsigned integer.
func ParseUint(raw string) (interface{}, error) {
	if raw == "" {
		return nil, fmt.Errorf("fathom: empty unsigned integer")
	}
	var v uint64
	for _, c := range raw {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("fathom: invalid unsigned integer %q", raw)
		}
		v = v*10 + uint64(c-'0')
	}
	return uint(v), nil
}

// ParseBool accepts the bool-descriptor value set: presence alone (empty
// string) or one of "true"/"false"/"1"/"0".
func ParseBool(raw string) (interface{}, error) {
	switch raw {
	case "", "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return nil, fmt.Errorf("fathom: invalid bool %q", raw)
	}
}

// ParseVoid always succeeds, discarding raw, for void descriptors.
func ParseVoid(raw string) (interface{}, error) {
	return struct{}{}, nil
}

// RequiredQuery declares a required query-item descriptor.
func RequiredQuery(name string, parse ValueParser) *QueryItemDescriptor {
	return &QueryItemDescriptor{Name: name, Arity: Required, Parse: parse}
}

// OptionalQuery declares an optional query-item descriptor with a default.
func OptionalQuery(name string, parse ValueParser, def interface{}) *QueryItemDescriptor {
	return &QueryItemDescriptor{Name: name, Arity: Optional, Parse: parse, Default: def}
}

// BoolQuery declares a bool query-item descriptor.
func BoolQuery(name string, def bool) *QueryItemDescriptor {
	return &QueryItemDescriptor{Name: name, Arity: Bool, Parse: ParseBool, Default: def}
}

// VoidQuery declares a void (presence-only) query-item descriptor.
func VoidQuery(name string) *QueryItemDescriptor {
	return &QueryItemDescriptor{Name: name, Arity: Void, Parse: ParseVoid}
}
