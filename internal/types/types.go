package types

import (
	"context"

	"github.com/xhad/grader/internal/models"
)

// Collaborator interfaces consumed by the pipeline.

type Ingestor interface {
	Extract(path string) (string, models.Metadata)
}

type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type ReportWriter interface {
	Write(ctx context.Context, runID string, report models.Report) (string, error)
}
