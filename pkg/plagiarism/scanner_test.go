package plagiarism

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/grader/internal/models"
)

type searchFunc func(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)

func (f searchFunc) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	return f(ctx, query, maxResults)
}

func numbered(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word" + strings.Repeat("x", i%7)
	}
	return strings.Join(parts, " ")
}

func TestScanShortTextIsOneChunk(t *testing.T) {
	text := "The quick brown fox, jumps over the lazy dog."
	s := NewWithConfig(searchFunc(func(context.Context, string, int) ([]models.SearchResult, error) {
		return nil, nil
	}), ScannerConfig{}, nil)

	summary, findings := s.Scan(context.Background(), text)

	require.Len(t, findings, 1)
	assert.Equal(t, "The quick brown fox jumps over the lazy dog", findings[0].Chunk)
	assert.Equal(t, 1, summary.Chunks)
	assert.Equal(t, models.ConfidenceLimited, summary.Confidence)
}

func TestScanLookupFailuresAreIsolated(t *testing.T) {
	tests := []struct {
		name   string
		search searchFunc
	}{
		{"error", func(context.Context, string, int) ([]models.SearchResult, error) {
			return nil, errors.New("network down")
		}},
		{"panic", func(context.Context, string, int) ([]models.SearchResult, error) {
			panic("boom")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewWithConfig(tt.search, ScannerConfig{}, nil)

			summary, findings := s.Scan(context.Background(), numbered(120))

			require.Len(t, findings, 3)
			for _, f := range findings {
				assert.Equal(t, 0.0, f.Similarity)
				assert.Nil(t, f.BestMatch)
			}
			assert.Equal(t, models.ConfidenceLimited, summary.Confidence)
			assert.Equal(t, 0.0, summary.AvgSimilarity)
			assert.False(t, summary.LikelyPlagiarized)
		})
	}
}

func TestScanExactMatch(t *testing.T) {
	text := numbered(30)
	var mu sync.Mutex
	var seen []int

	s := NewWithConfig(searchFunc(func(_ context.Context, query string, maxResults int) ([]models.SearchResult, error) {
		mu.Lock()
		seen = append(seen, maxResults)
		mu.Unlock()
		return []models.SearchResult{
			{Title: "unrelated", Body: "zzz", URL: "https://a.example"},
			{Body: query, URL: "https://b.example"},
		}, nil
	}), ScannerConfig{}, nil)

	summary, findings := s.Scan(context.Background(), text)

	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].BestMatch)
	assert.Equal(t, "https://b.example", findings[0].BestMatch.URL)
	assert.GreaterOrEqual(t, findings[0].Similarity, highSimilarity)
	assert.Equal(t, 1, summary.HighSimilarityChunks)
	assert.True(t, summary.LikelyPlagiarized)
	assert.Equal(t, models.ConfidenceModerate, summary.Confidence)
	assert.Equal(t, []int{3}, seen)
}

func TestScanBoundsFindingsAndKeepsOrder(t *testing.T) {
	s := NewWithConfig(searchFunc(func(context.Context, string, int) ([]models.SearchResult, error) {
		return nil, nil
	}), ScannerConfig{Workers: 4}, nil)

	summary, findings := s.Scan(context.Background(), numbered(300))

	require.Len(t, findings, 7)
	assert.Len(t, summary.Findings, 5)
	assert.Equal(t, 7, summary.Chunks)
	assert.Equal(t, findings[:5], summary.Findings)
	assert.True(t, strings.HasPrefix(findings[0].Chunk, "word wordx"))
	assert.LessOrEqual(t, len([]rune(findings[6].Chunk)), excerptRunes)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.Equal(t, 0.75, Similarity("abcd", "bcde"))
	assert.Equal(t, 0.0, Similarity("", "abc"))
}

func TestSummarize(t *testing.T) {
	empty := Summarize(nil, 5)
	assert.Equal(t, 0.0, empty.AvgSimilarity)
	assert.False(t, empty.LikelyPlagiarized)
	assert.Equal(t, models.ConfidenceLimited, empty.Confidence)
	assert.NotNil(t, empty.Findings)

	match := &models.SearchResult{Title: "t"}
	findings := make([]models.Finding, 12)
	findings[0] = models.Finding{Similarity: 0.9, BestMatch: match}
	findings[1] = models.Finding{Similarity: 0.3333, BestMatch: match}

	got := Summarize(findings, 5)
	assert.Equal(t, 0.103, got.AvgSimilarity)
	assert.Equal(t, 1, got.HighSimilarityChunks)
	// 12 chunks need 2 high-similarity chunks.
	assert.False(t, got.LikelyPlagiarized)
	assert.Equal(t, models.ConfidenceModerate, got.Confidence)
}
