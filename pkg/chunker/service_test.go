package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitByCharacter(t *testing.T) {
	svc := New()

	chunks, err := svc.Split("abcdefghij", Options{Size: 4, Overlap: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij"}, chunks)
}

func TestSplitByCharacterTail(t *testing.T) {
	svc := New()

	chunks, err := svc.Split("abcdefg", Options{Size: 4, Overlap: 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "efg"}, chunks)
}

func TestSplitDeterministic(t *testing.T) {
	svc := New()
	text := strings.Repeat("lorem ipsum dolor sit amet ", 100)

	a, err := svc.Split(text, Options{Size: 100, Overlap: 20})
	require.NoError(t, err)
	b, err := svc.Split(text, Options{Size: 100, Overlap: 20})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitDropsWhitespaceChunks(t *testing.T) {
	svc := New()

	chunks, err := svc.Split("ab        cd", Options{Size: 4, Overlap: 0})
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
	assert.Len(t, chunks, 2)
}

func TestSplitEmptyText(t *testing.T) {
	svc := New()

	chunks, err := svc.Split("", Options{Size: 4, Overlap: 0})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitRejectsBadGeometry(t *testing.T) {
	svc := New()

	_, err := svc.Split("abc", Options{Size: 0, Overlap: 0})
	assert.Error(t, err)

	_, err = svc.Split("abc", Options{Size: 4, Overlap: 4})
	assert.Error(t, err)

	_, err = svc.Split("abc", Options{Size: 4, Overlap: 0, Method: "sentence"})
	assert.Error(t, err)
}

func TestSplitUnicodeBoundaries(t *testing.T) {
	svc := New()

	chunks, err := svc.Split("日本語のテキスト", Options{Size: 3, Overlap: 1})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "日本語", chunks[0])
	for _, c := range chunks {
		assert.True(t, len([]rune(c)) <= 3)
	}
}

func TestTokenCount(t *testing.T) {
	svc := New()
	assert.Greater(t, svc.TokenCount("The quick brown fox jumps over the lazy dog."), 5)
	assert.Zero(t, svc.TokenCount(""))
}
