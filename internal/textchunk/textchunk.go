// Package textchunk splits narration text into vendor-sized pieces on word boundaries.
package textchunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ai-things/audio-go/internal/apierr"
)

// Chunk is one bounded slice of the input. Index is its position in the original text.
type Chunk struct {
	Index   int
	Content string
}

// Split breaks text on single spaces into pieces of at most maxLength characters.
// A word longer than maxLength becomes its own chunk. Empty pieces are dropped, so an empty or
// all-space input yields no chunks.
func Split(text string, maxLength int) ([]string, error) {
	if maxLength < 1 {
		return nil, fmt.Errorf("max length %d: %w", maxLength, apierr.ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(text) <= maxLength {
		return []string{text}, nil
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 && strings.TrimSpace(current.String()) != "" {
			chunks = append(chunks, current.String())
		}
		current.Reset()
		currentLen = 0
	}

	for _, word := range strings.Split(text, " ") {
		wordLen := utf8.RuneCountInString(word)
		switch {
		case currentLen == 0 && wordLen == 0:
			continue
		case currentLen == 0:
			if wordLen > maxLength {
				chunks = append(chunks, word)
				continue
			}
			current.WriteString(word)
			currentLen = wordLen
		case currentLen+1+wordLen <= maxLength:
			current.WriteByte(' ')
			current.WriteString(word)
			currentLen += 1 + wordLen
		default:
			flush()
			if wordLen > maxLength {
				chunks = append(chunks, word)
				continue
			}
			if wordLen > 0 {
				current.WriteString(word)
				currentLen = wordLen
			}
		}
	}
	flush()

	return chunks, nil
}

// Chunks is Split with each piece tagged by its position.
func Chunks(text string, maxLength int) ([]Chunk, error) {
	parts, err := Split(text, maxLength)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, len(parts))
	for i, p := range parts {
		out[i] = Chunk{Index: i, Content: p}
	}
	return out, nil
}
