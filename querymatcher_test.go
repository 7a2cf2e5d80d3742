package fathom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dynDecl(items ...*QueryItemDescriptor) *declaration {
	return &declaration{kind: kindDynamic, queryItems: items}
}

func rawDecl() *declaration {
	return &declaration{kind: kindDynamic, rawQuery: true}
}

func TestQueryMatcherUniqueRequired(t *testing.T) {
	qm, err := compileQueryMatcher("/t", []*declaration{
		dynDecl(RequiredQuery("x", ParseInt)),
	})
	require.NoError(t, err)

	idx, values, outcome := qm.match(parseRawQuery("x=42"))
	assert.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 42, values["x"])

	// A declared name whose value fails to parse is invalid (400
	// semantics), not a routing miss.
	_, _, outcome = qm.match(parseRawQuery("x=abc"))
	assert.Equal(t, outcomeInvalid, outcome)

	// An undeclared name evicts every candidate without a raw
	// descriptor.
	_, _, outcome = qm.match(parseRawQuery("x=1&y=2"))
	assert.Equal(t, outcomeNoMatch, outcome)

	// A missing required descriptor is never satisfied.
	_, _, outcome = qm.match(nil)
	assert.Equal(t, outcomeNoMatch, outcome)
}

func TestQueryMatcherOrderIndependence(t *testing.T) {
	qm, err := compileQueryMatcher("/t", []*declaration{
		dynDecl(RequiredQuery("a", ParseInt), RequiredQuery("b", ParseInt)),
	})
	require.NoError(t, err)

	idx1, v1, o1 := qm.match(parseRawQuery("a=1&b=2"))
	idx2, v2, o2 := qm.match(parseRawQuery("b=2&a=1"))

	assert.Equal(t, o1, o2)
	assert.Equal(t, idx1, idx2)
	assert.Equal(t, v1, v2)
}

func TestQueryMatcherDuplicateNameFails(t *testing.T) {
	qm, err := compileQueryMatcher("/t", []*declaration{
		dynDecl(RequiredQuery("x", ParseInt)),
	})
	require.NoError(t, err)

	_, _, outcome := qm.match(parseRawQuery("x=1&x=2"))
	assert.Equal(t, outcomeNoMatch, outcome)
}

func TestQueryMatcherOptionalDefaults(t *testing.T) {
	qm, err := compileQueryMatcher("/t", []*declaration{
		dynDecl(
			RequiredQuery("q", ParseString),
			OptionalQuery("limit", ParseInt, 10),
			BoolQuery("pretty", false),
		),
	})
	require.NoError(t, err)

	_, values, outcome := qm.match(parseRawQuery("q=tea"))
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, "tea", values["q"])
	assert.Equal(t, 10, values["limit"])
	assert.Equal(t, false, values["pretty"])

	// A bool descriptor is satisfied by presence alone.
	_, values, outcome = qm.match(parseRawQuery("q=tea&pretty"))
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, true, values["pretty"])

	_, values, outcome = qm.match(parseRawQuery("q=tea&pretty=0"))
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, false, values["pretty"])

	_, _, outcome = qm.match(parseRawQuery("q=tea&pretty=yes"))
	assert.Equal(t, outcomeInvalid, outcome)
}

func TestQueryMatcherVoidDescriptor(t *testing.T) {
	qm, err := compileQueryMatcher("/t", []*declaration{
		dynDecl(RequiredQuery("q", ParseString), VoidQuery("verbose")),
	})
	require.NoError(t, err)

	_, values, outcome := qm.match(parseRawQuery("q=x&verbose"))
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, struct{}{}, values["verbose"])
}

func TestQueryMatcherRawConsumesWholeQuery(t *testing.T) {
	qm, err := compileQueryMatcher("/t", []*declaration{rawDecl()})
	require.NoError(t, err)

	items := parseRawQuery("a=1&b=2&whatever")
	idx, values, outcome := qm.match(items)
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, 0, idx)
	assert.Equal(t, items, values["*"])
}

func TestQueryMatcherRawSharesBucketError(t *testing.T) {
	_, err := compileQueryMatcher("/t", []*declaration{
		rawDecl(),
		dynDecl(RequiredQuery("x", ParseInt)),
	})
	assert.Error(t, err)
}

func TestQueryMatcherIdenticalSignaturesError(t *testing.T) {
	_, err := compileQueryMatcher("/t", []*declaration{
		dynDecl(RequiredQuery("x", ParseInt)),
		dynDecl(RequiredQuery("x", ParseUint)),
	})
	assert.Error(t, err)

	// Same names with different arities stay distinguishable.
	_, err = compileQueryMatcher("/t", []*declaration{
		dynDecl(RequiredQuery("x", ParseInt)),
		dynDecl(OptionalQuery("x", ParseInt, 0)),
	})
	assert.NoError(t, err)
}

func TestQueryMatcherDuplicateNameInOneDeclarationError(t *testing.T) {
	_, err := compileQueryMatcher("/t", []*declaration{
		dynDecl(RequiredQuery("x", ParseInt), OptionalQuery("x", ParseInt, 0)),
	})
	assert.Error(t, err)
}

func TestQueryMatcherOverloadedBucket(t *testing.T) {
	// The three range declarations: (from, to), (through), and
	// (from, through).
	qm, err := compileQueryMatcher("/range/uint", []*declaration{
		dynDecl(OptionalQuery("from", ParseUint, nil), OptionalQuery("to", ParseUint, nil)),
		dynDecl(OptionalQuery("through", ParseUint, nil)),
		dynDecl(RequiredQuery("from", ParseUint), RequiredQuery("through", ParseUint)),
	})
	require.NoError(t, err)

	idx, values, outcome := qm.match(parseRawQuery("from=3&to=7"))
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, 0, idx)
	assert.Equal(t, uint(3), values["from"])
	assert.Equal(t, uint(7), values["to"])

	idx, values, outcome = qm.match(parseRawQuery("through=5"))
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, 1, idx)
	assert.Equal(t, uint(5), values["through"])

	idx, _, outcome = qm.match(parseRawQuery("from=3&through=7"))
	require.Equal(t, outcomeUnique, outcome)
	assert.Equal(t, 2, idx)

	// The empty query satisfies both all-optional declarations.
	_, _, outcome = qm.match(nil)
	assert.Equal(t, outcomeAmbiguous, outcome)
}

func TestParseRawQuery(t *testing.T) {
	items := parseRawQuery("a=1&b=two+words&c=%2Fslash&d&&e=")
	require.Len(t, items, 5)
	assert.Equal(t, rawQueryItem{"a", "1"}, items[0])
	assert.Equal(t, rawQueryItem{"b", "two words"}, items[1])
	assert.Equal(t, rawQueryItem{"c", "/slash"}, items[2])
	assert.Equal(t, rawQueryItem{"d", ""}, items[3])
	assert.Equal(t, rawQueryItem{"e", ""}, items[4])

	assert.Nil(t, parseRawQuery(""))
}

func TestValueParsers(t *testing.T) {
	v, err := ParseInt("-42")
	require.NoError(t, err)
	assert.Equal(t, -42, v)

	_, err = ParseInt("")
	assert.Error(t, err)
	_, err = ParseInt("-")
	assert.Error(t, err)
	_, err = ParseInt("4x")
	assert.Error(t, err)

	v, err = ParseUint("7")
	require.NoError(t, err)
	assert.Equal(t, uint(7), v)

	_, err = ParseUint("-7")
	assert.Error(t, err)

	v, err = ParseBool("")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = ParseBool("false")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = ParseBool("maybe")
	assert.Error(t, err)
}
