package pipeline

import "fmt"

type Stage string

const (
	StageIngestion Stage = "ingestion"
	StageAnalysis  Stage = "analysis"
	StageGrading   Stage = "grading"
	StageFeedback  Stage = "feedback"
	StageDone      Stage = "done"
)

// Order is the fixed execution order. The current stage only moves forward
// through it.
var Order = []Stage{StageIngestion, StageAnalysis, StageGrading, StageFeedback, StageDone}

// ParsePauseAfter validates a pause point. Only the boundaries after
// ingestion, analysis and grading can pause; "" means never.
func ParsePauseAfter(s string) (Stage, error) {
	switch Stage(s) {
	case "", StageIngestion, StageAnalysis, StageGrading:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("invalid pause-after stage %q: want one of ingestion, analysis, grading", s)
	}
}

func (s Stage) index() int {
	for i, st := range Order {
		if st == s {
			return i
		}
	}
	return -1
}
