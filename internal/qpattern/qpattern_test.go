package qpattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMatchesAndSubstitutes(t *testing.T) {
	p, err := Compile(`hash:\s*\d+`, "hash: ?")
	require.NoError(t, err)

	key1, ok1 := p.Apply("SELECT * FROM t /* hash: 1234 */")
	require.True(t, ok1)
	key2, ok2 := p.Apply("SELECT * FROM t /* hash: 9999 */")
	require.True(t, ok2)

	assert.Equal(t, key1, key2)
}

func TestApplyNoMatchReturnsFalse(t *testing.T) {
	p, err := Compile(`hash:\s*\d+`, "hash: ?")
	require.NoError(t, err)

	_, ok := p.Apply("SELECT * FROM t")
	assert.False(t, ok)
}

func TestApplyNormalizesNewlines(t *testing.T) {
	p, err := Compile(`select \* +from +t1`, "NORMALIZED")
	require.NoError(t, err)

	key, ok := p.Apply("select *\n from \r\n t1")
	require.True(t, ok)
	assert.Equal(t, "NORMALIZED", key)
}

func TestCompileInvalidRegexReturnsError(t *testing.T) {
	_, err := Compile(`(unclosed`, "x")
	require.Error(t, err)
}

func TestListFirstMatchWins(t *testing.T) {
	p1 := MustCompile(`foo`, "FIRST")
	p2 := MustCompile(`.*`, "SECOND")
	l := NewList(p1, p2)

	assert.Equal(t, "a FIRST query", l.Apply("a foo query"))
	assert.Equal(t, "SECOND", l.Apply("anything else"))
}

func TestListFallsBackToNormalizedSubjectWhenNoMatch(t *testing.T) {
	l := NewList()
	assert.Equal(t, "select 1", l.Apply("select 1"))
}

func TestParseRegexReplace(t *testing.T) {
	search, replace, err := ParseRegexReplace(`s/hash:\s*\d+/hash: ?/`)
	require.NoError(t, err)
	assert.Equal(t, `hash:\s*\d+`, search)
	assert.Equal(t, "hash: ?", replace)
}

func TestParseRegexReplaceWithEscapedSlash(t *testing.T) {
	search, replace, err := ParseRegexReplace(`s/a\/b/c/`)
	require.NoError(t, err)
	assert.Equal(t, "a/b", search)
	assert.Equal(t, "c", replace)
}

func TestParseRegexReplaceRejectsBadForm(t *testing.T) {
	_, _, err := ParseRegexReplace("not-a-pattern")
	require.Error(t, err)
}
