package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/grader/internal/models"
)

const resultsPage = `
<html><body>
  <div class="result">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fone&rut=x">First   Title</a>
    <a class="result__snippet">The first
      snippet.</a>
  </div>
  <div class="result">
    <a class="result__a" href="https://example.com/two">Second Title</a>
    <div class="result__snippet">Second snippet.</div>
  </div>
  <div class="result"><span>no link here</span></div>
  <div class="result">
    <a class="result__a" href="https://example.com/three">Third Title</a>
  </div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	var gotQuery, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotMethod = r.Method
		gotQuery = r.PostForm.Get("q")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(resultsPage))
	}))
	defer server.Close()

	d, err := NewDuckDuckGo(DuckDuckGoConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	results, err := d.Search(context.Background(), "some chunk of text", 2)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "some chunk of text", gotQuery)
	assert.Equal(t, []models.SearchResult{
		{Title: "First Title", Body: "The first snippet.", URL: "https://example.com/one"},
		{Title: "Second Title", Body: "Second snippet.", URL: "https://example.com/two"},
	}, results)

	all, err := d.Search(context.Background(), "q", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Empty(t, all[2].Body)
}

func TestDuckDuckGoErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	d, err := NewDuckDuckGo(DuckDuckGoConfig{BaseURL: server.URL, RateLimit: 100, Timeout: time.Second})
	require.NoError(t, err)

	_, err = d.Search(context.Background(), "q", 3)
	assert.Error(t, err)

	results, err := d.Search(context.Background(), "   ", 3)
	assert.NoError(t, err)
	assert.Empty(t, results)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Search(ctx, "q", 3)
	assert.Error(t, err)
}

func TestResolveHref(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example%2Fx", "https://a.example/x"},
		{"https://b.example/y", "https://b.example/y"},
		{"//c.example/z", "https://c.example/z"},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveHref(tt.href))
		})
	}
}

type countingSearcher struct {
	calls   int
	results []models.SearchResult
	err     error
}

func (c *countingSearcher) Search(context.Context, string, int) ([]models.SearchResult, error) {
	c.calls++
	return c.results, c.err
}

func TestCached(t *testing.T) {
	inner := &countingSearcher{results: []models.SearchResult{{Title: "t"}}}
	c, err := NewCached(inner, 4)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := c.Search(context.Background(), "q", 3)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
	assert.Equal(t, 1, inner.calls)

	_, err = c.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	failing := &countingSearcher{err: errors.New("down")}
	fc, err := NewCached(failing, 4)
	require.NoError(t, err)
	_, err = fc.Search(context.Background(), "q", 3)
	assert.Error(t, err)
	_, err = fc.Search(context.Background(), "q", 3)
	assert.Error(t, err)
	assert.Equal(t, 2, failing.calls)
}

func TestChain(t *testing.T) {
	a := &countingSearcher{results: []models.SearchResult{{Title: "a1"}, {Title: "a2"}}}
	b := &countingSearcher{err: errors.New("down")}
	c := &countingSearcher{results: []models.SearchResult{{Title: "c1"}, {Title: "c2"}}}

	got, err := Chain{a, b, c}.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, []models.SearchResult{{Title: "a1"}, {Title: "a2"}, {Title: "c1"}}, got)

	_, err = Chain{b, b}.Search(context.Background(), "q", 3)
	assert.Error(t, err)

	c.calls = 0
	got, err = Chain{a, c}.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, c.calls)
}
