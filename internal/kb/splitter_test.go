package kb

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words returns "w1 w2 ... wN". With SimpleTokenizer this tokenizes into
// 2N-1 tokens (words plus the single-space runs between them).
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i+1)
	}
	return strings.Join(parts, " ")
}

func TestSimpleTokenizerRoundTrip(t *testing.T) {
	texts := []string{
		"",
		"one",
		"two words",
		"  leading and  trailing \n whitespace\t",
	}
	tok := SimpleTokenizer{}
	for _, text := range texts {
		assert.Equal(t, text, strings.Join(tok.Tokenize(text), ""))
	}
}

func TestSplitValidation(t *testing.T) {
	s := NewSplitter(SimpleTokenizer{})

	_, err := s.Split("hello", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = s.Split("hello", 10, 10)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = s.Split("hello", 10, 11)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = s.Split("hello", 10, -1)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSplitEmptyInput(t *testing.T) {
	s := NewSplitter(SimpleTokenizer{})
	res, err := s.Split("", 100, 20)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.False(t, res.CharFallback)
}

func TestSplitWhitespaceOnlyInput(t *testing.T) {
	s := NewSplitter(SimpleTokenizer{})
	res, err := s.Split("   \n\t  ", 100, 20)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
}

func TestSplitShortInputSingleChunk(t *testing.T) {
	s := NewSplitter(SimpleTokenizer{})
	res, err := s.Split("just a few words", 100, 20)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "just a few words", res.Chunks[0].Content)
	assert.Equal(t, 0, res.Chunks[0].Sequence)
}

func TestSplitExactSizeSingleChunk(t *testing.T) {
	// 10 words = 19 tokens under SimpleTokenizer.
	text := words(10)
	s := NewSplitter(SimpleTokenizer{})

	res, err := s.Split(text, 19, 4)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, text, res.Chunks[0].Content)
}

func TestSplitOneTokenOverProducesTwoChunks(t *testing.T) {
	// 19 tokens with size 18: the second chunk starts size-overlap in.
	text := words(10)
	s := NewSplitter(SimpleTokenizer{})

	res, err := s.Split(text, 18, 4)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.True(t, strings.HasPrefix(res.Chunks[0].Content, "w1 "))
	assert.Equal(t, "w8 w9 w10", res.Chunks[1].Content)
	assert.Equal(t, 0, res.Chunks[0].Sequence)
	assert.Equal(t, 1, res.Chunks[1].Sequence)
}

func TestSplitOverlapRepeatsContent(t *testing.T) {
	text := words(40)
	s := NewSplitter(SimpleTokenizer{})

	res, err := s.Split(text, 20, 10)
	require.NoError(t, err)
	require.Greater(t, len(res.Chunks), 2)

	// With a 10-token overlap the last 5 words of each chunk reappear at the
	// head of the next one.
	for i := 1; i < len(res.Chunks); i++ {
		prevWords := strings.Fields(res.Chunks[i-1].Content)
		curWords := strings.Fields(res.Chunks[i].Content)
		require.GreaterOrEqual(t, len(prevWords), 5)
		require.GreaterOrEqual(t, len(curWords), 5)
		assert.Equal(t, prevWords[len(prevWords)-5:], curWords[:5])
	}

	for i, c := range res.Chunks {
		assert.Equal(t, i, c.Sequence)
	}
}

func TestSplitCharFallback(t *testing.T) {
	s := NewSplitter(nil)

	res, err := s.Split("abcdefghij", 4, 1)
	require.NoError(t, err)
	assert.True(t, res.CharFallback)
	// size/overlap count characters in fallback mode: step 3.
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, "abcd", res.Chunks[0].Content)
	assert.Equal(t, "defg", res.Chunks[1].Content)
	assert.Equal(t, "ghij", res.Chunks[2].Content)
}

func TestSplitErrorsAreConfiguration(t *testing.T) {
	s := NewSplitter(nil)
	_, err := s.Split("text", 5, 5)
	var cfgErr error = ErrInvalidConfiguration
	assert.True(t, errors.Is(err, cfgErr))
}
