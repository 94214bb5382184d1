package kixx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePathPattern_Wildcard(t *testing.T) {
	match, err := CompilePathPattern("*")
	require.NoError(t, err)

	params, ok := match("/anything/at/all")
	assert.True(t, ok)
	assert.Equal(t, 0, params.Len())
}

func TestCompilePathPattern_Literal(t *testing.T) {
	match, err := CompilePathPattern("/widgets/list")
	require.NoError(t, err)

	_, ok := match("/widgets/list")
	assert.True(t, ok)

	_, ok = match("/widgets/other")
	assert.False(t, ok)

	_, ok = match("/widgets/list/extra")
	assert.False(t, ok, "segment count must match exactly")
}

func TestCompilePathPattern_ParameterCapture(t *testing.T) {
	match, err := CompilePathPattern("/widgets/:id/parts/:partId")
	require.NoError(t, err)

	params, ok := match("/widgets/42/parts/left-hinge")
	require.True(t, ok)

	id, ok := params.Get("id")
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	partID, ok := params.Get("partId")
	assert.True(t, ok)
	assert.Equal(t, "left-hinge", partID)
}

func TestCompilePathPattern_EmptyParameterName(t *testing.T) {
	_, err := CompilePathPattern("/widgets/:")
	require.Error(t, err)
	assert.True(t, isAssertionError(err))
}

func TestCompilePathPattern_WildcardNotEntirePattern(t *testing.T) {
	_, err := CompilePathPattern("/widgets/*/parts")
	require.Error(t, err)
	assert.True(t, isAssertionError(err))
}

func TestCompilePathPattern_EmptyPattern(t *testing.T) {
	_, err := CompilePathPattern("")
	require.Error(t, err)
}

func TestCompileHostPattern_MatchesReversedSegments(t *testing.T) {
	match, err := CompileHostPattern(ReverseHostSegments(":sub.example.com"))
	require.NoError(t, err)

	params, ok := match(ReverseHostSegments("tenant-a.example.com"))
	require.True(t, ok)

	sub, ok := params.Get("sub")
	assert.True(t, ok)
	assert.Equal(t, "tenant-a", sub)
}

func TestReverseHostSegments(t *testing.T) {
	assert.Equal(t, "com.example.www", ReverseHostSegments("www.example.com"))
	assert.Equal(t, "localhost", ReverseHostSegments("localhost"))
}

// isAssertionError is a small test helper reporting whether err is
// itself an *AssertionError (no unwrapping); kept local to this file since no production code
// needs a type-check this narrow.
func isAssertionError(err error) bool {
	_, ok := err.(*AssertionError)
	return ok
}
