package textchunk

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"ai-things/audio-go/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		maxLength int
		want      []string
	}{
		{"empty", "", 10, nil},
		{"only spaces", "     ", 10, nil},
		{"shorter than bound", "hello world", 50, []string{"hello world"}},
		{"exact bound", "hello world", 11, []string{"hello world"}},
		{"splits on words", "one two three four", 9, []string{"one two", "three", "four"}},
		{"oversized word alone", "a supercalifragilistic b", 5, []string{"a", "supercalifragilistic", "b"}},
		{"oversized first word", "supercalifragilistic is long", 8, []string{"supercalifragilistic", "is long"}},
		{"double spaces kept inside chunk", "ab  cd ef", 6, []string{"ab  cd", "ef"}},
		{"counts runes not bytes", "héllo wörld", 5, []string{"héllo", "wörld"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Split(tt.text, tt.maxLength)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_InvalidBound(t *testing.T) {
	t.Parallel()

	for _, bound := range []int{0, -1} {
		_, err := Split("some text", bound)
		assert.ErrorIs(t, err, apierr.ErrValidation)
	}
}

func TestSplit_ThreeChunkScenario(t *testing.T) {
	t.Parallel()

	words := make([]string, 70)
	for i := range words {
		words[i] = "abcd"
	}
	words[69] = "abcde"
	text := strings.Join(words, " ")
	require.Equal(t, 350, len(text))

	chunks, err := Split(text, 140)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestSplit_PreservesWordSequenceAndBound(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyzé")

	for i := 0; i < 300; i++ {
		nWords := rng.Intn(60)
		words := make([]string, nWords)
		for w := range words {
			n := 1 + rng.Intn(25)
			var b strings.Builder
			for c := 0; c < n; c++ {
				b.WriteRune(alphabet[rng.Intn(len(alphabet))])
			}
			words[w] = b.String()
		}
		text := strings.Join(words, " ")
		bound := 1 + rng.Intn(40)

		chunks, err := Split(text, bound)
		require.NoError(t, err)

		assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")),
			"word sequence changed for bound=%d text=%q", bound, text)
		for _, c := range chunks {
			assert.NotEmpty(t, strings.TrimSpace(c))
			if utf8.RuneCountInString(c) > bound {
				assert.NotContains(t, c, " ", "oversized chunk %q must be a single word", c)
			}
		}
	}
}

func TestChunks_IndexesInOrder(t *testing.T) {
	t.Parallel()

	got, err := Chunks("alpha beta gamma delta", 10)
	require.NoError(t, err)
	assert.Equal(t, []Chunk{
		{Index: 0, Content: "alpha beta"},
		{Index: 1, Content: "gamma"},
		{Index: 2, Content: "delta"},
	}, got)
}
