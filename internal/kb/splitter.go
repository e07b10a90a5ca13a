package kb

import (
	"fmt"
	"strings"
	"unicode"
)

// Tokenizer turns text into a token stream. Concatenating the returned
// tokens must reproduce the input exactly, so chunk content can be rebuilt
// from any token span.
type Tokenizer interface {
	Tokenize(text string) []string
}

// SimpleTokenizer splits text into alternating runs of non-space and space
// characters. It approximates model tokenization well enough for chunk
// sizing; a real BPE tokenizer can be plugged in through the interface.
type SimpleTokenizer struct{}

func (SimpleTokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	var tokens []string
	runes := []rune(text)
	start := 0
	inSpace := unicode.IsSpace(runes[0])
	for i := 1; i < len(runes); i++ {
		s := unicode.IsSpace(runes[i])
		if s != inSpace {
			tokens = append(tokens, string(runes[start:i]))
			start = i
			inSpace = s
		}
	}
	tokens = append(tokens, string(runes[start:]))
	return tokens
}

// SplitResult carries the ordered chunks plus a flag telling callers the
// splitter had to fall back to character counting. Chunk boundaries then no
// longer align with model tokenization, which hurts retrieval quality but
// not correctness.
type SplitResult struct {
	Chunks       []Chunk
	CharFallback bool
}

// Splitter cuts raw text into overlapping token-bounded spans.
type Splitter struct {
	tok Tokenizer
}

// NewSplitter returns a splitter over the given tokenizer. A nil tokenizer
// selects the degraded character-count mode.
func NewSplitter(tok Tokenizer) *Splitter {
	return &Splitter{tok: tok}
}

// Split cuts text into chunks of at most size tokens with the given overlap
// between consecutive chunks. Empty input yields no chunks; input shorter
// than size yields exactly one. The last chunk may be short, never padded.
// Chunks without content after trimming are skipped. ContentHash is left
// empty; see HashChunks.
func (s *Splitter) Split(text string, size, overlap int) (*SplitResult, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfiguration, overlap, size)
	}

	if s.tok == nil {
		return &SplitResult{
			Chunks:       splitUnits(runeUnits([]rune(text)), size, overlap),
			CharFallback: true,
		}, nil
	}
	return &SplitResult{Chunks: splitUnits(s.tok.Tokenize(text), size, overlap)}, nil
}

// runeUnits adapts a rune slice to the one-string-per-unit form splitUnits
// walks, so size/overlap count characters in fallback mode.
func runeUnits(runes []rune) []string {
	if len(runes) == 0 {
		return nil
	}
	units := make([]string, len(runes))
	for i, r := range runes {
		units[i] = string(r)
	}
	return units
}

func splitUnits(units []string, size, overlap int) []Chunk {
	var chunks []Chunk
	seq := 0
	for start := 0; start < len(units); {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		content := strings.TrimSpace(strings.Join(units[start:end], ""))
		if content != "" {
			chunks = append(chunks, Chunk{Content: content, Sequence: seq})
			seq++
		}
		if end == len(units) {
			break
		}
		start += size - overlap
	}
	return chunks
}
