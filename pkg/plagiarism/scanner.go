package plagiarism

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/internal/types"
	"github.com/xhad/grader/pkg/logger"
	"github.com/xhad/grader/pkg/processor"
)

const (
	highSimilarity  = 0.85
	excerptRunes    = 200
	defaultResults  = 3
	defaultWorkers  = 2
	defaultFindings = 5
)

type ScannerConfig struct {
	MinChunkWords int
	MaxChunkWords int
	MaxResults    int
	Workers       int
	MaxFindings   int
}

type Scanner struct {
	searcher  types.Searcher
	processor processor.Processor
	config    ScannerConfig
	log       logger.Logger
}

func NewWithConfig(searcher types.Searcher, config ScannerConfig, log logger.Logger) *Scanner {
	if config.MaxResults <= 0 {
		config.MaxResults = defaultResults
	}
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.MaxFindings <= 0 {
		config.MaxFindings = defaultFindings
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scanner{
		searcher: searcher,
		processor: processor.NewWithConfig(processor.ProcessorConfig{
			MinChunkWords: config.MinChunkWords,
			MaxChunkWords: config.MaxChunkWords,
		}),
		config: config,
		log:    log,
	}
}

// Scan looks up every chunk of text and scores the closest match. Lookup
// failures count as zero results for that chunk only. The summary carries
// the first MaxFindings findings; the full list is returned alongside it.
func (s *Scanner) Scan(ctx context.Context, text string) (models.PlagiarismSummary, []models.Finding) {
	chunks := s.processor.Chunk(text)
	findings := make([]models.Finding, len(chunks))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range s.config.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				findings[i] = s.scanChunk(ctx, chunks[i])
			}
		}()
	}
	for i := range chunks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return Summarize(findings, s.config.MaxFindings), findings
}

func (s *Scanner) scanChunk(ctx context.Context, chunk string) models.Finding {
	finding := models.Finding{Chunk: processor.Truncate(chunk, excerptRunes)}

	results := s.lookup(ctx, chunk)
	top := 0.0
	for i := range results {
		candidate := results[i].Title + " " + results[i].Body
		if sim := Similarity(chunk, candidate); sim > top {
			top = sim
			match := results[i]
			finding.BestMatch = &match
		}
	}
	finding.Similarity = top
	return finding
}

func (s *Scanner) lookup(ctx context.Context, chunk string) (results []models.SearchResult) {
	if s.searcher == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("plagiarism", "Lookup panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
			results = nil
		}
	}()

	results, err := s.searcher.Search(ctx, chunk, s.config.MaxResults)
	if err != nil {
		s.log.Warn("plagiarism", "Lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return results
}

// Summarize aggregates per-chunk findings.
func Summarize(findings []models.Finding, maxFindings int) models.PlagiarismSummary {
	total := 0.0
	high := 0
	matched := false
	for _, f := range findings {
		total += f.Similarity
		if f.Similarity >= highSimilarity {
			high++
		}
		if f.BestMatch != nil {
			matched = true
		}
	}

	avg := 0.0
	if len(findings) > 0 {
		avg = total / float64(len(findings))
	}

	confidence := models.ConfidenceLimited
	if matched {
		confidence = models.ConfidenceModerate
	}

	bounded := findings
	if len(bounded) > maxFindings {
		bounded = bounded[:maxFindings]
	}
	if bounded == nil {
		bounded = []models.Finding{}
	}

	return models.PlagiarismSummary{
		AvgSimilarity:        math.Round(avg*1000) / 1000,
		HighSimilarityChunks: high,
		LikelyPlagiarized:    high >= max(1, len(findings)/6),
		Confidence:           confidence,
		Chunks:               len(findings),
		Findings:             bounded,
	}
}

// Similarity is the ratio of matching blocks between the characters of a
// and b, in [0,1]. Popular-character junking is off: over a small alphabet
// it would discard nearly every character of a snippet longer than 200.
func Similarity(a, b string) float64 {
	return difflib.NewMatcherWithJunk(runes(a), runes(b), false, nil).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
