package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/internal/types"
	"github.com/xhad/grader/pkg/agent"
	"github.com/xhad/grader/pkg/extract"
	"github.com/xhad/grader/pkg/logger"
	"github.com/xhad/grader/pkg/processor"
	"github.com/xhad/grader/pkg/sanitize"
	"github.com/xhad/grader/pkg/session"
)

var ErrRunInProgress = errors.New("pipeline: a run is already in progress")

type SimilarityScanner interface {
	Scan(ctx context.Context, text string) (models.PlagiarismSummary, []models.Finding)
}

type AuthorshipDetector interface {
	Evaluate(text string) models.AISummary
}

// Archiver receives every completed run, after the report is written.
// Failures are logged and never fail the run.
type Archiver interface {
	Archive(ctx context.Context, run Completed) error
}

type Completed struct {
	RunID      string
	InputName  string
	ReportPath string
	Document   models.Document
	Report     models.Report
	FinishedAt time.Time
}

type Config struct {
	PollInterval   time.Duration
	GradeBudget    int
	FeedbackBudget int
	AppName        string
	UserID         string
}

type Deps struct {
	Ingestor  types.Ingestor
	Scanner   SimilarityScanner
	Detector  AuthorshipDetector
	Grader    types.Completer
	Feedback  types.Completer
	Sessions  session.Store
	Writer    types.ReportWriter
	Archivers []Archiver
	Logger    logger.Logger
	OnEvent   func(Event)
}

type RunOptions struct {
	RunID      string
	InputPath  string
	// InputName is how archivers refer to the input; defaults to InputPath.
	InputName  string
	Rubric     string
	PauseAfter Stage
}

type RunResult struct {
	OK         bool           `json:"ok"`
	RunID      string         `json:"run_id"`
	ReportPath string         `json:"report_path"`
	Summary    map[string]any `json:"summary"`
	Report     models.Report  `json:"report"`
}

type IngestionOutput struct {
	Metadata models.Metadata `json:"meta"`
	Chars    int             `json:"chars"`
}

// State is a point-in-time copy of a run's progress.
type State struct {
	RunID        string        `json:"run_id"`
	Paused       bool          `json:"paused"`
	CurrentStage Stage         `json:"current_stage"`
	Data         map[Stage]any `json:"data"`
}

type EventKind string

const (
	EventStageStarted   EventKind = "stage_started"
	EventStageCompleted EventKind = "stage_completed"
	EventPaused         EventKind = "paused"
	EventResumed        EventKind = "resumed"
	EventDone           EventKind = "done"
)

type Event struct {
	RunID string    `json:"run_id"`
	Kind  EventKind `json:"type"`
	Stage Stage     `json:"stage"`
	Data  any       `json:"data,omitempty"`
	At    time.Time `json:"at"`
}

// Orchestrator runs one submission at a time through ingestion, analysis,
// grading and feedback. Pause and Resume may be called from any goroutine.
type Orchestrator struct {
	config   Config
	deps     Deps
	log      logger.Logger
	grading  *agent.Agent
	feedback *agent.Agent

	running atomic.Bool
	paused  atomic.Bool

	mu    sync.Mutex
	state State
}

func New(config Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Ingestor == nil:
		return nil, errors.New("pipeline: ingestor is required")
	case deps.Scanner == nil:
		return nil, errors.New("pipeline: similarity scanner is required")
	case deps.Detector == nil:
		return nil, errors.New("pipeline: authorship detector is required")
	case deps.Grader == nil || deps.Feedback == nil:
		return nil, errors.New("pipeline: grading and feedback completers are required")
	case deps.Writer == nil:
		return nil, errors.New("pipeline: report writer is required")
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if config.GradeBudget <= 0 {
		config.GradeBudget = 8000
	}
	if config.FeedbackBudget <= 0 {
		config.FeedbackBudget = 6000
	}
	if config.AppName == "" {
		config.AppName = "grader"
	}
	if config.UserID == "" {
		config.UserID = "grader_user"
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewCacheStore(time.Hour)
	}

	return &Orchestrator{
		config: config,
		deps:   deps,
		log:    deps.Logger,
		grading: agent.New(agent.Config{
			Name:        "GradingAgent",
			Instruction: agent.GradingInstruction,
			AppName:     config.AppName,
			UserID:      config.UserID,
		}, deps.Grader, deps.Sessions, deps.Logger),
		feedback: agent.New(agent.Config{
			Name:        "FeedbackAgent",
			Instruction: agent.FeedbackInstruction,
			AppName:     config.AppName,
			UserID:      config.UserID,
		}, deps.Feedback, deps.Sessions, deps.Logger),
		state: State{Data: map[Stage]any{}},
	}, nil
}

// Pause takes effect at the next stage boundary.
func (o *Orchestrator) Pause() {
	o.paused.Store(true)
}

func (o *Orchestrator) Resume() {
	o.paused.Store(false)
}

func (o *Orchestrator) Paused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.state
	out.Paused = o.paused.Load()
	out.Data = make(map[Stage]any, len(o.state.Data))
	for k, v := range o.state.Data {
		out.Data[k] = v
	}
	return out
}

// Run grades one submission. Stage failures degrade the report instead of
// failing the run; only a cancelled context while paused or waiting, and a
// failed report write, are returned as errors.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	if _, err := ParsePauseAfter(string(opts.PauseAfter)); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	o.paused.Store(false)
	o.mu.Lock()
	o.state = State{RunID: opts.RunID, Data: map[Stage]any{}}
	o.mu.Unlock()

	runLog := map[string]interface{}{"run_id": opts.RunID, "input": opts.InputPath}
	o.log.Info("pipeline", "Run started", runLog)

	// Ingestion
	o.enter(opts.RunID, StageIngestion)
	doc := o.ingest(opts.InputPath)
	o.complete(opts.RunID, StageIngestion, IngestionOutput{Metadata: doc.Metadata, Chars: doc.Metadata.Chars})
	if err := o.boundary(ctx, opts, StageIngestion); err != nil {
		return nil, err
	}

	// Analysis
	o.enter(opts.RunID, StageAnalysis)
	analysis := o.analyze(ctx, doc.Text)
	o.complete(opts.RunID, StageAnalysis, analysis)
	if err := o.boundary(ctx, opts, StageAnalysis); err != nil {
		return nil, err
	}

	sanitized := sanitize.Sanitize(doc.Text)

	// Grading
	o.enter(opts.RunID, StageGrading)
	gradePrompt := GradingPrompt(opts.Rubric, processor.Truncate(sanitized, o.config.GradeBudget))
	grade, err := o.ask(ctx, o.grading, "grading", gradePrompt)
	if err != nil {
		return nil, err
	}
	o.complete(opts.RunID, StageGrading, grade)
	if err := o.boundary(ctx, opts, StageGrading); err != nil {
		return nil, err
	}

	// Feedback
	o.enter(opts.RunID, StageFeedback)
	feedbackPrompt := FeedbackPrompt(grade, analysis, processor.Truncate(sanitized, o.config.FeedbackBudget))
	feedback, err := o.ask(ctx, o.feedback, "feedback", feedbackPrompt)
	if err != nil {
		return nil, err
	}
	o.complete(opts.RunID, StageFeedback, feedback)

	report := models.Report{
		Input:    doc.Metadata,
		Analysis: analysis,
		Grade:    grade,
		Feedback: feedback,
	}

	path, err := o.deps.Writer.Write(ctx, opts.RunID, report)
	if err != nil {
		o.log.Error("pipeline", "Report write failed", map[string]interface{}{
			"run_id": opts.RunID,
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("persist report: %w", err)
	}

	inputName := opts.InputName
	if inputName == "" {
		inputName = opts.InputPath
	}
	o.archive(ctx, Completed{
		RunID:      opts.RunID,
		InputName:  inputName,
		ReportPath: path,
		Document:   doc,
		Report:     report,
		FinishedAt: time.Now(),
	})

	result := &RunResult{
		OK:         true,
		RunID:      opts.RunID,
		ReportPath: path,
		Summary:    grade,
		Report:     report,
	}
	o.enter(opts.RunID, StageDone)
	o.emit(Event{RunID: opts.RunID, Kind: EventDone, Stage: StageDone, Data: result})
	o.log.Info("pipeline", "Run finished", map[string]interface{}{
		"run_id":      opts.RunID,
		"report_path": path,
	})

	return result, nil
}

func (o *Orchestrator) ingest(path string) models.Document {
	text, meta := o.deps.Ingestor.Extract(path)
	meta.Chars = utf8.RuneCountInString(text)
	if !meta.OK {
		o.log.Warn("pipeline", "Ingestion failed, continuing with empty text", map[string]interface{}{
			"path":   path,
			"error":  meta.Error,
			"detail": meta.Detail,
		})
	}
	return models.Document{Text: text, Metadata: meta}
}

// analyze runs both analyzers concurrently. Either one failing is replaced
// by its degraded summary.
func (o *Orchestrator) analyze(ctx context.Context, text string) models.Analysis {
	var (
		wg   sync.WaitGroup
		plag Outcome[models.PlagiarismSummary]
		ai   Outcome[models.AISummary]
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		plag = Capture(func() (models.PlagiarismSummary, error) {
			summary, _ := o.deps.Scanner.Scan(ctx, text)
			return summary, nil
		})
	}()
	go func() {
		defer wg.Done()
		ai = Capture(func() (models.AISummary, error) {
			return o.deps.Detector.Evaluate(text), nil
		})
	}()
	wg.Wait()

	if plag.Err != nil {
		o.log.Error("pipeline", "Similarity scan failed", map[string]interface{}{"error": plag.Err.Error()})
	}
	if ai.Err != nil {
		o.log.Error("pipeline", "Authorship heuristic failed", map[string]interface{}{"error": ai.Err.Error()})
	}

	return models.Analysis{
		Plagiarism: plag.OrElse(func(err error) models.PlagiarismSummary { return models.DegradedPlagiarism(err.Error()) }),
		AIEval:     ai.OrElse(func(err error) models.AISummary { return models.DegradedAI(err.Error()) }),
	}
}

// ask runs an agent and renders its reply. A completion failure becomes an
// error payload in the report; only context cancellation stops the run.
func (o *Orchestrator) ask(ctx context.Context, a *agent.Agent, sessionID, prompt string) (map[string]any, error) {
	reply, err := a.Run(ctx, sessionID, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.log.Error("pipeline", "Completion failed", map[string]interface{}{
			"agent": a.Name(),
			"error": err.Error(),
		})
		return map[string]any{"error": "completion_failed", "detail": err.Error()}, nil
	}

	switch r := extract.Extract(reply).(type) {
	case extract.Parsed:
		return r.Map(), nil
	case extract.Unparsed:
		o.log.Warn("pipeline", "Model reply was not JSON, keeping raw text", map[string]interface{}{
			"agent": a.Name(),
			"chars": len(r.Raw),
		})
		return r.Map(), nil
	default:
		return map[string]any{"raw": reply}, nil
	}
}

func (o *Orchestrator) archive(ctx context.Context, run Completed) {
	for _, a := range o.deps.Archivers {
		if err := a.Archive(ctx, run); err != nil {
			o.log.Warn("pipeline", "Archive failed", map[string]interface{}{
				"run_id":   run.RunID,
				"archiver": fmt.Sprintf("%T", a),
				"error":    err.Error(),
			})
		}
	}
}

// boundary pauses when the run asked to stop after stage, then waits for
// Resume. External Pause calls are honoured here too.
func (o *Orchestrator) boundary(ctx context.Context, opts RunOptions, stage Stage) error {
	if opts.PauseAfter == stage {
		o.Pause()
	}
	if !o.paused.Load() {
		return nil
	}

	o.emit(Event{RunID: opts.RunID, Kind: EventPaused, Stage: stage})
	o.log.Info("pipeline", "Paused", map[string]interface{}{"run_id": opts.RunID, "stage": string(stage)})

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	for o.paused.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	o.emit(Event{RunID: opts.RunID, Kind: EventResumed, Stage: stage})
	o.log.Info("pipeline", "Resumed", map[string]interface{}{"run_id": opts.RunID, "stage": string(stage)})
	return nil
}

func (o *Orchestrator) enter(runID string, stage Stage) {
	o.mu.Lock()
	if stage.index() > o.state.CurrentStage.index() {
		o.state.CurrentStage = stage
	}
	o.mu.Unlock()
	if stage != StageDone {
		o.emit(Event{RunID: runID, Kind: EventStageStarted, Stage: stage})
	}
}

func (o *Orchestrator) complete(runID string, stage Stage, output any) {
	o.mu.Lock()
	o.state.Data[stage] = output
	o.mu.Unlock()
	o.emit(Event{RunID: runID, Kind: EventStageCompleted, Stage: stage, Data: output})
}

func (o *Orchestrator) emit(e Event) {
	if o.deps.OnEvent == nil {
		return
	}
	e.At = time.Now()
	o.deps.OnEvent(e)
}
