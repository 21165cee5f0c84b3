package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// Statuses worth another attempt.
var retryableStatus = map[int]bool{429: true, 500: true, 503: true, 504: true}

type RetryConfig struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

type GeminiConfig struct {
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	SystemInstruction string
	BaseURL           string // overrides the public endpoint, mostly for tests
	JSONMode          bool
	Retry             RetryConfig
}

// GeminiEngine completes prompts through the Gemini API.
type GeminiEngine struct {
	config GeminiConfig
	client *genai.Client
}

func NewGeminiWithConfig(ctx context.Context, config GeminiConfig) (*GeminiEngine, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash-lite"
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	if config.Retry.Attempts <= 0 {
		config.Retry.Attempts = 5
	}
	if config.Retry.InitialDelay <= 0 {
		config.Retry.InitialDelay = time.Second
	}
	if config.Retry.Multiplier < 1 {
		config.Retry.Multiplier = 7
	}
	if config.Retry.MaxDelay <= 0 {
		config.Retry.MaxDelay = time.Minute
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}

	return &GeminiEngine{config: config, client: client}, nil
}

// Complete retries transient API failures with exponential backoff. Any
// other error is returned immediately.
func (g *GeminiEngine) Complete(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(g.config.Temperature)),
		MaxOutputTokens: int32(g.config.MaxTokens),
	}
	if g.config.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(g.config.SystemInstruction, genai.RoleUser)
	}
	if g.config.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}

	delay := g.config.Retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= g.config.Retry.Attempts; attempt++ {
		resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt), cfg)
		if err == nil {
			text := resp.Text()
			if text == "" {
				return "", ErrEmptyResponse
			}
			return text, nil
		}

		lastErr = err
		if !retryable(err) || attempt == g.config.Retry.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * g.config.Retry.Multiplier)
		if delay > g.config.Retry.MaxDelay {
			delay = g.config.Retry.MaxDelay
		}
	}

	return "", fmt.Errorf("gemini completion failed: %w", lastErr)
}

func retryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus[apiErr.Code]
	}
	return false
}
