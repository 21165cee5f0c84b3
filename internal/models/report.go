package models

// Confidence and risk levels. The "unavailable" and "unknown" values only
// appear on degraded summaries.
const (
	ConfidenceLimited     = "limited"
	ConfidenceModerate    = "moderate"
	ConfidenceUnavailable = "unavailable"

	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
	RiskUnknown  = "unknown"
)

// AIDisclaimer is attached to every authorship summary.
const AIDisclaimer = "Heuristic estimate only. Statistical signals are not proof of machine authorship and produce false positives."

type Finding struct {
	Chunk      string        `json:"chunk"`
	Similarity float64       `json:"similarity"`
	BestMatch  *SearchResult `json:"best_match"`
}

type PlagiarismSummary struct {
	AvgSimilarity        float64   `json:"avg_similarity"`
	HighSimilarityChunks int       `json:"high_similarity_chunks"`
	LikelyPlagiarized    bool      `json:"likely_plagiarized"`
	Confidence           string    `json:"confidence"`
	Chunks               int       `json:"chunks"`
	Findings             []Finding `json:"findings"`
	Error                string    `json:"error,omitempty"`
}

type AISummary struct {
	Entropy            float64 `json:"entropy"`
	AvgSentenceLen     float64 `json:"avg_sentence_len"`
	VarSentenceLen     float64 `json:"var_sentence_len"`
	RepetitiveTrigrams int     `json:"repetitive_trigrams"`
	StopwordRatio      float64 `json:"stopword_ratio"`
	TypeTokenRatio     float64 `json:"type_token_ratio"`
	HeadingHits        int     `json:"heading_hits"`
	TransitionCount    int     `json:"transition_count"`
	Score              int     `json:"score"`
	Risk               string  `json:"risk"`
	LikelyAI           bool    `json:"likely_ai"`
	Strict             bool    `json:"strict"`
	Disclaimer         string  `json:"disclaimer"`
	Error              string  `json:"error,omitempty"`
}

// DegradedPlagiarism is substituted when the similarity scan could not run.
func DegradedPlagiarism(reason string) PlagiarismSummary {
	return PlagiarismSummary{
		Confidence: ConfidenceUnavailable,
		Findings:   []Finding{},
		Error:      reason,
	}
}

// DegradedAI is substituted when the authorship heuristic could not run.
func DegradedAI(reason string) AISummary {
	return AISummary{
		Risk:       RiskUnknown,
		Disclaimer: AIDisclaimer,
		Error:      reason,
	}
}

type Analysis struct {
	Plagiarism PlagiarismSummary `json:"plagiarism"`
	AIEval     AISummary         `json:"ai_eval"`
}

// Report is the single artifact persisted at the end of a run.
type Report struct {
	Input    Metadata       `json:"input"`
	Analysis Analysis       `json:"analysis"`
	Grade    map[string]any `json:"grade"`
	Feedback map[string]any `json:"feedback"`
}
