package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/grader/internal/models"
	"golang.org/x/time/rate"
)

const defaultEndpoint = "https://html.duckduckgo.com/html/"

type DuckDuckGoConfig struct {
	BaseURL   string
	RateLimit float64 // requests per second
	Timeout   time.Duration
	UserAgent string
}

// DuckDuckGo queries the keyless HTML endpoint and scrapes the result list.
type DuckDuckGo struct {
	config  DuckDuckGoConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewDuckDuckGo(config DuckDuckGoConfig) (*DuckDuckGo, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; grader/1.0)"
	}

	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}

	return &DuckDuckGo{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" || maxResults <= 0 {
		return nil, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d from %s", resp.StatusCode, d.config.BaseURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		title := cleanText(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		results = append(results, models.SearchResult{
			Title: title,
			Body:  cleanText(sel.Find(".result__snippet").Text()),
			URL:   resolveHref(href),
		})
		return len(results) < maxResults
	})

	return results, nil
}

func cleanText(content string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(content), " "))
}

// resolveHref unwraps DuckDuckGo redirect links (/l/?uddg=<target>).
func resolveHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		u.Scheme = "https"
		return u.String()
	}
	return href
}
