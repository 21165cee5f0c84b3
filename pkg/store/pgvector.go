package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/internal/types"
)

type CorpusConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	MaxDistance float64 // cosine distance; larger is less similar
}

// Corpus archives the chunks of graded submissions so later submissions can
// be checked against them. It satisfies types.Searcher.
type Corpus struct {
	config   CorpusConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
}

func NewCorpus(ctx context.Context, config CorpusConfig, embedder types.Embedder) (*Corpus, error) {
	if config.TableName == "" {
		config.TableName = "submissions"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.MaxDistance == 0 {
		config.MaxDistance = 0.35
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c := &Corpus{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := c.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return c, nil
}

func (c *Corpus) initialize(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			submission_id TEXT NOT NULL,
			title TEXT,
			content TEXT,
			chunk_index INTEGER,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, c.config.TableName, c.config.VectorDim)
	if _, err := c.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		c.config.TableName, c.config.TableName)
	if _, err := c.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Add embeds and stores the chunks of one submission. Re-adding a
// submission overwrites its rows.
func (c *Corpus) Add(ctx context.Context, submissionID, title string, chunks []string) error {
	if len(chunks) == 0 {
		return nil
	}

	clean := make([]string, len(chunks))
	for i, chunk := range chunks {
		clean[i] = sanitizeUTF8(chunk)
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, clean)
	if err != nil {
		return fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(clean) {
		return fmt.Errorf("expected %d embeddings, got %d", len(clean), len(vectors))
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, submission_id, title, content, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		c.config.TableName)

	cleanTitle := sanitizeUTF8(title)
	for i, chunk := range clean {
		_, err = tx.Exec(ctx, stmt,
			chunkID(submissionID, i),
			submissionID,
			cleanTitle,
			chunk,
			i,
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Search returns the archived chunks nearest to query within MaxDistance.
func (c *Corpus) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if maxResults <= 0 {
		return nil, nil
	}

	embedding, err := c.embedder.EmbedQuery(ctx, sanitizeUTF8(query))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	stmt := fmt.Sprintf(`
		SELECT submission_id, chunk_index, title, content
		FROM %s
		WHERE embedding <=> $1 < $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		c.config.TableName)

	rows, err := c.pool.Query(ctx, stmt, pgvector.NewVector(embedding), c.config.MaxDistance, maxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			submissionID, title, content string
			index                        int
		)
		if err := rows.Scan(&submissionID, &index, &title, &content); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, models.SearchResult{
			Title: title,
			Body:  content,
			URL:   corpusURL(submissionID, index),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (c *Corpus) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func chunkID(submissionID string, index int) string {
	return fmt.Sprintf("%s_%d", submissionID, index)
}

func corpusURL(submissionID string, index int) string {
	return fmt.Sprintf("corpus://%s#%d", submissionID, index)
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
