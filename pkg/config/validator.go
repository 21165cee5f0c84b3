package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "GEMINI_API_KEY is required for the gemini provider",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	// Validate search config
	switch c.Search.Provider {
	case "duckduckgo", "none":
	default:
		errors = append(errors, ValidationError{
			Field:   "search.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.Search.Provider),
		})
	}

	if c.Search.MaxResults < 1 {
		errors = append(errors, ValidationError{
			Field:   "search.max_results",
			Message: "max_results must be positive",
		})
	}

	if c.Search.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "search.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate analysis config
	if c.Analysis.MinChunkWords < 1 || c.Analysis.MaxChunkWords < c.Analysis.MinChunkWords {
		errors = append(errors, ValidationError{
			Field:   "analysis.max_chunk_words",
			Message: "chunk bounds must satisfy 1 <= min_chunk_words <= max_chunk_words",
		})
	}

	if c.Analysis.GradeBudget < 1 || c.Analysis.FeedbackBudget < 1 {
		errors = append(errors, ValidationError{
			Field:   "analysis.grade_budget",
			Message: "prompt budgets must be positive",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
		if c.Database.VectorDim < 1 {
			errors = append(errors, ValidationError{
				Field:   "database.vector_dim",
				Message: "vector_dim must be positive",
			})
		}
	}

	// Validate S3 mirror config
	if c.Output.S3.Endpoint != "" && c.Output.S3.Bucket == "" {
		errors = append(errors, ValidationError{
			Field:   "output.s3.bucket",
			Message: "bucket is required when an endpoint is set",
		})
	}

	return errors
}
