// Package history keeps a local SQLite log of completed grading runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/pkg/report"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    input_path TEXT NOT NULL,
    finished_at INTEGER NOT NULL,
    ingest_ok INTEGER NOT NULL,
    overall_score REAL,
    plagiarism_confidence TEXT,
    ai_risk TEXT,
    report_path TEXT,
    report_json TEXT
);
CREATE INDEX IF NOT EXISTS runs_finished_at_idx ON runs (finished_at);
`

type Entry struct {
	RunID                string    `json:"run_id"`
	InputPath            string    `json:"input_path"`
	FinishedAt           time.Time `json:"finished_at"`
	IngestOK             bool      `json:"ingest_ok"`
	OverallScore         *float64  `json:"overall_score"`
	PlagiarismConfidence string    `json:"plagiarism_confidence"`
	AIRisk               string    `json:"ai_risk"`
	ReportPath           string    `json:"report_path"`
}

type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Record stores a finished run under inputName, falling back to the report's
// input path. Recording the same run id twice replaces the earlier row.
func (s *SQLite) Record(ctx context.Context, runID, inputName, reportPath string, finishedAt time.Time, r models.Report) error {
	if inputName == "" {
		inputName = r.Input.Path
	}

	data, err := report.Encode(r)
	if err != nil {
		return err
	}

	var score sql.NullFloat64
	if v, ok := OverallScore(r.Grade); ok {
		score = sql.NullFloat64{Float64: v, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs
    (id, input_path, finished_at, ingest_ok, overall_score, plagiarism_confidence, ai_risk, report_path, report_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		inputName,
		finishedAt.UnixMilli(),
		r.Input.OK,
		score,
		r.Analysis.Plagiarism.Confidence,
		r.Analysis.AIEval.Risk,
		reportPath,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// List returns the most recent runs first.
func (s *SQLite) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, input_path, finished_at, ingest_ok, overall_score, plagiarism_confidence, ai_risk, report_path
FROM runs
ORDER BY finished_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			finishedAt int64
			score      sql.NullFloat64
			conf, risk sql.NullString
			path       sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.InputPath, &finishedAt, &e.IngestOK, &score, &conf, &risk, &path); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.FinishedAt = time.UnixMilli(finishedAt)
		if score.Valid {
			v := score.Float64
			e.OverallScore = &v
		}
		e.PlagiarismConfidence = conf.String
		e.AIRisk = risk.String
		e.ReportPath = path.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// OverallScore reads a numeric overall_score from a grade result.
func OverallScore(grade map[string]any) (float64, bool) {
	switch v := grade["overall_score"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
