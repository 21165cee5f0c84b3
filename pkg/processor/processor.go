package processor

import (
	"regexp"
	"strings"
)

var (
	wordPattern     = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
	sentenceEnders  = regexp.MustCompile(`[.!?]+\s*`)
	whitespaceRunes = regexp.MustCompile(`\s+`)
)

type ProcessorConfig struct {
	MinChunkWords int
	MaxChunkWords int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MinChunkWords <= 0 {
		config.MinChunkWords = 25
	}
	if config.MaxChunkWords <= 0 {
		config.MaxChunkWords = 40
	}
	if config.MaxChunkWords < config.MinChunkWords {
		config.MaxChunkWords = config.MinChunkWords
	}

	return Processor{
		config: config,
	}
}

// Chunk splits text into contiguous word spans of MinChunkWords..MaxChunkWords.
// When taking a full span would leave fewer than MinChunkWords behind, the
// final chunk absorbs the remainder instead. Text shorter than MinChunkWords
// yields a single chunk.
func (p *Processor) Chunk(text string) []string {
	return ChunkWords(Words(text), p.config.MinChunkWords, p.config.MaxChunkWords)
}

func ChunkWords(words []string, minWords, maxWords int) []string {
	if maxWords < 1 {
		maxWords = 1
	}
	if minWords < 1 {
		minWords = 1
	}
	var chunks []string
	for i := 0; i < len(words); {
		remaining := len(words) - i
		size := maxWords
		if remaining-maxWords < minWords {
			size = remaining
		}
		chunks = append(chunks, strings.Join(words[i:i+size], " "))
		i += size
	}
	return chunks
}

// Words returns the word-character runs of text with case preserved.
func Words(text string) []string {
	return wordPattern.FindAllString(text, -1)
}

// LowerWords returns the lower-cased word tokens of text.
func LowerWords(text string) []string {
	return Words(strings.ToLower(text))
}

// Sentences splits on runs of terminal punctuation and drops empty pieces.
func Sentences(text string) []string {
	var sentences []string
	for _, s := range sentenceEnders.Split(strings.TrimSpace(text), -1) {
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Truncate keeps at most budget runes of text. Overflow is dropped.
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(text) <= budget {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget])
}

// CollapseWhitespace replaces whitespace runs with single spaces.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRunes.ReplaceAllString(text, " "))
}
