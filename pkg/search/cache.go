package search

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/internal/types"
)

// Cached memoizes successful lookups. Errors are never cached.
type Cached struct {
	next  types.Searcher
	cache *lru.Cache[string, []models.SearchResult]
}

func NewCached(next types.Searcher, size int) (*Cached, error) {
	if size <= 0 {
		size = 512
	}
	c, err := lru.New[string, []models.SearchResult](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	key := fmt.Sprintf("%d\x00%s", maxResults, query)
	if hit, ok := c.cache.Get(key); ok {
		return hit, nil
	}
	results, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, results)
	return results, nil
}

// Chain queries every searcher in order and concatenates their results up
// to maxResults. A failing searcher is skipped; Chain only fails when every
// searcher failed.
type Chain []types.Searcher

func (c Chain) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	var (
		results []models.SearchResult
		lastErr error
		failed  int
	)
	for _, s := range c {
		if len(results) >= maxResults {
			break
		}
		found, err := s.Search(ctx, query, maxResults-len(results))
		if err != nil {
			lastErr = err
			failed++
			continue
		}
		results = append(results, found...)
	}
	if failed > 0 && failed == len(c) {
		return nil, fmt.Errorf("all searchers failed: %w", lastErr)
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}
