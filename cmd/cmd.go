package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/grader/internal/types"
	"github.com/xhad/grader/pkg/aidetect"
	cfgPkg "github.com/xhad/grader/pkg/config"
	"github.com/xhad/grader/pkg/history"
	"github.com/xhad/grader/pkg/ingest"
	"github.com/xhad/grader/pkg/llm"
	"github.com/xhad/grader/pkg/logger"
	"github.com/xhad/grader/pkg/pipeline"
	"github.com/xhad/grader/pkg/plagiarism"
	"github.com/xhad/grader/pkg/processor"
	"github.com/xhad/grader/pkg/report"
	"github.com/xhad/grader/pkg/search"
	"github.com/xhad/grader/pkg/store"
)

// app holds the collaborators shared by every run. Orchestrators and their
// session stores are created per run.
type app struct {
	config    *cfgPkg.Config
	log       logger.Logger
	searcher  types.Searcher
	completer types.Completer
	writer    types.ReportWriter
	history   *history.SQLite
	corpus    *store.Corpus
	archivers []pipeline.Archiver
}

func newApp(ctx context.Context, config *cfgPkg.Config, log logger.Logger) (*app, error) {
	a := &app{config: config, log: log}

	completer, err := newCompleter(ctx, config)
	if err != nil {
		return nil, err
	}
	a.completer = completer

	var searchers search.Chain
	if config.Search.Provider == "duckduckgo" {
		ddg, err := search.NewDuckDuckGo(search.DuckDuckGoConfig{
			BaseURL:   config.Search.BaseURL,
			RateLimit: config.Search.RateLimit,
			Timeout:   time.Duration(config.Search.TimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize web search: %w", err)
		}
		cached, err := search.NewCached(ddg, config.Search.CacheSize)
		if err != nil {
			return nil, err
		}
		searchers = append(searchers, cached)
	}

	if config.Database.URL != "" {
		embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Model:     config.Database.EmbeddingModel,
			BatchSize: config.Database.BatchSize,
			BaseURL:   config.LLM.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		corpus, err := store.NewCorpus(ctx, store.CorpusConfig{
			ConnString: config.Database.URL,
			TableName:  config.Database.TableName,
			VectorDim:  config.Database.VectorDim,
		}, embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize submission corpus: %w", err)
		}
		a.corpus = corpus
		searchers = append(searchers, corpus)
		a.archivers = append(a.archivers, corpusArchiver{
			corpus: corpus,
			processor: processor.NewWithConfig(processor.ProcessorConfig{
				MinChunkWords: config.Analysis.MinChunkWords,
				MaxChunkWords: config.Analysis.MaxChunkWords,
			}),
		})
	}
	a.searcher = searchers

	if config.History.Path != "" {
		h, err := openHistory(config.History.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.history = h
		a.archivers = append(a.archivers, historyArchiver{store: h})
	}

	var mirrors []types.ReportWriter
	if config.Output.S3.Endpoint != "" {
		mirror, err := report.NewS3Mirror(s3MirrorConfig(config))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize report mirror: %w", err)
		}
		mirrors = append(mirrors, mirror)
	}
	a.writer = report.NewMirrored(report.NewFileWriter(config.Output.ReportPath), log, mirrors...)

	return a, nil
}

func newCompleter(ctx context.Context, config *cfgPkg.Config) (types.Completer, error) {
	switch config.LLM.Provider {
	case "gemini":
		return llm.NewGeminiWithConfig(ctx, llm.GeminiConfig{
			APIKey:      config.LLM.APIKey,
			Model:       config.LLM.Model,
			Temperature: config.LLM.Temperature,
			MaxTokens:   config.LLM.MaxTokens,
			JSONMode:    true,
			Retry:       llm.RetryConfig{Attempts: config.LLM.MaxAttempts},
		})
	default:
		return llm.NewWithConfig(llm.ChatConfig{
			Model:       config.LLM.Model,
			Temperature: config.LLM.Temperature,
			MaxTokens:   config.LLM.MaxTokens,
			BaseURL:     config.LLM.BaseURL,
			JSONMode:    true,
		})
	}
}

func s3MirrorConfig(config *cfgPkg.Config) report.S3Config {
	s3 := config.Output.S3
	return report.S3Config{
		Endpoint:  s3.Endpoint,
		Region:    s3.Region,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		Bucket:    s3.Bucket,
		UseSSL:    s3.UseSSL,
		Prefix:    s3.Prefix,
	}
}

func openHistory(path string) (*history.SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return history.Open(path)
}

// orchestrator builds a fresh orchestrator; it matches server.Factory.
func (a *app) orchestrator(onEvent func(pipeline.Event)) (*pipeline.Orchestrator, error) {
	c := a.config
	return pipeline.New(pipeline.Config{
		PollInterval:   time.Duration(c.Pipeline.PollIntervalMs) * time.Millisecond,
		GradeBudget:    c.Analysis.GradeBudget,
		FeedbackBudget: c.Analysis.FeedbackBudget,
		AppName:        c.Pipeline.AppName,
		UserID:         c.Pipeline.UserID,
	}, pipeline.Deps{
		Ingestor: ingest.NewReader(),
		Scanner: plagiarism.NewWithConfig(a.searcher, plagiarism.ScannerConfig{
			MinChunkWords: c.Analysis.MinChunkWords,
			MaxChunkWords: c.Analysis.MaxChunkWords,
			MaxResults:    c.Search.MaxResults,
			Workers:       c.Search.Workers,
			MaxFindings:   c.Analysis.MaxFindings,
		}, a.log),
		Detector:  aidetect.NewWithConfig(aidetect.Config{Strict: c.Analysis.Strict}),
		Grader:    a.completer,
		Feedback:  a.completer,
		Writer:    a.writer,
		Archivers: a.archivers,
		Logger:    a.log,
		OnEvent:   onEvent,
	})
}

func (a *app) Close() {
	if a.corpus != nil {
		a.corpus.Close()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("cmd", "Closing history failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

type historyArchiver struct {
	store *history.SQLite
}

func (h historyArchiver) Archive(ctx context.Context, run pipeline.Completed) error {
	return h.store.Record(ctx, run.RunID, run.InputName, run.ReportPath, run.FinishedAt, run.Report)
}

// corpusArchiver adds each successfully ingested submission to the corpus
// so later submissions are checked against it.
type corpusArchiver struct {
	corpus    *store.Corpus
	processor processor.Processor
}

func (c corpusArchiver) Archive(ctx context.Context, run pipeline.Completed) error {
	if !run.Document.Metadata.OK {
		return nil
	}
	chunks := c.processor.Chunk(run.Document.Text)
	if len(chunks) == 0 {
		return nil
	}
	return c.corpus.Add(ctx, run.RunID, filepath.Base(run.InputName), chunks)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printHistory(entries []history.Entry) {
	if len(entries) == 0 {
		color.Yellow("No graded runs yet")
		return
	}
	header := color.New(color.FgCyan, color.Bold).PrintfFunc()
	failed := color.New(color.FgRed)
	header("%-36s  %-19s  %6s  %-11s  %-8s  %s\n", "RUN", "FINISHED", "SCORE", "PLAGIARISM", "AI RISK", "INPUT")
	for _, e := range entries {
		score := "-"
		if e.OverallScore != nil {
			score = fmt.Sprintf("%.1f", *e.OverallScore)
		}
		line := fmt.Sprintf("%-36s  %-19s  %6s  %-11s  %-8s  %s",
			e.RunID, e.FinishedAt.Local().Format("2006-01-02 15:04:05"), score,
			e.PlagiarismConfidence, e.AIRisk, e.InputPath)
		if !e.IngestOK {
			failed.Println(line)
			continue
		}
		fmt.Println(line)
	}
}
