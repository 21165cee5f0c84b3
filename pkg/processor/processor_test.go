package processor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xhad/grader/pkg/processor"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w"
	}
	return strings.Join(parts, " ")
}

func TestProcessor_Chunk(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	tests := []struct {
		name  string
		words int
		sizes []int
	}{
		{"empty", 0, nil},
		{"shorter than minimum", 10, []int{10}},
		{"exactly maximum", 40, []int{40}},
		{"remainder absorbed", 50, []int{50}},
		{"largest absorbed", 64, []int{64}},
		{"two full spans", 65, []int{40, 25}},
		{"three chunks", 110, []int{40, 40, 30}},
		{"many chunks", 145, []int{40, 40, 40, 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := p.Chunk(words(tt.words))
			var sizes []int
			for _, c := range chunks {
				sizes = append(sizes, len(strings.Fields(c)))
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestChunkNeverBelowMinimumUnlessShort(t *testing.T) {
	for n := 25; n < 300; n++ {
		chunks := processor.ChunkWords(strings.Fields(words(n)), 25, 40)
		total := 0
		for _, c := range chunks {
			size := len(strings.Fields(c))
			assert.GreaterOrEqual(t, size, 25, "n=%d", n)
			total += size
		}
		assert.Equal(t, n, total)
	}
}

func TestWordsAndSentences(t *testing.T) {
	text := "Hello, World! This is a test... Is it? Yes"

	assert.Equal(t, []string{"Hello", "World", "This", "is", "a", "test", "Is", "it", "Yes"}, processor.Words(text))
	assert.Equal(t, []string{"hello", "world"}, processor.LowerWords("Hello WORLD"))
	assert.Equal(t, []string{"Hello, World", "This is a test", "Is it", "Yes"}, processor.Sentences(text))
	assert.Empty(t, processor.Sentences("   "))
	assert.Equal(t, []string{"café", "naïve"}, processor.Words("café naïve"))
}

func TestWordsKeepCombiningMarks(t *testing.T) {
	assert.Equal(t, []string{"नमस्ते", "दुनिया"}, processor.Words("नमस्ते, दुनिया!"))
	assert.Equal(t, []string{"cafe\u0301", "ok"}, processor.Words("cafe\u0301 ok"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", processor.Truncate("abc", 10))
	assert.Equal(t, "ab", processor.Truncate("abc", 2))
	assert.Equal(t, "", processor.Truncate("abc", 0))
	assert.Equal(t, "éé", processor.Truncate("ééé", 2))
}
