package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/pkg/sanitize"
)

const DefaultRubric = "Overall clarity, accuracy, structure, evidence"

// GradingPrompt expects text already sanitized and truncated.
func GradingPrompt(rubric, text string) string {
	if rubric == "" {
		rubric = DefaultRubric
	}
	return fmt.Sprintf("Rubric: %s.\nStudentText:\n%s\nReturn JSON only.", rubric, text)
}

// FeedbackPrompt expects text already sanitized and truncated. Only the
// aggregate analysis is embedded: findings hold raw document excerpts and
// web snippets.
func FeedbackPrompt(grade map[string]any, analysis models.Analysis, text string) string {
	return fmt.Sprintf("Based on this grade: %s and analysis: %s.\nStudentText:\n%s\nReturn JSON only.",
		compactJSON(grade), compactJSON(newAnalysisView(analysis)), text)
}

type plagiarismView struct {
	AvgSimilarity        float64 `json:"avg_similarity"`
	HighSimilarityChunks int     `json:"high_similarity_chunks"`
	LikelyPlagiarized    bool    `json:"likely_plagiarized"`
	Confidence           string  `json:"confidence"`
	Chunks               int     `json:"chunks"`
	Error                string  `json:"error,omitempty"`
}

type analysisView struct {
	Plagiarism plagiarismView   `json:"plagiarism"`
	AIEval     models.AISummary `json:"ai_eval"`
}

func newAnalysisView(a models.Analysis) analysisView {
	p := a.Plagiarism
	ai := a.AIEval
	ai.Error = sanitize.Sanitize(ai.Error)
	return analysisView{
		Plagiarism: plagiarismView{
			AvgSimilarity:        p.AvgSimilarity,
			HighSimilarityChunks: p.HighSimilarityChunks,
			LikelyPlagiarized:    p.LikelyPlagiarized,
			Confidence:           p.Confidence,
			Chunks:               p.Chunks,
			Error:                sanitize.Sanitize(p.Error),
		},
		AIEval: ai,
	}
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
