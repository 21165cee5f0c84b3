package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	cfgPkg "github.com/xhad/grader/pkg/config"
	"github.com/xhad/grader/pkg/logger"
	"github.com/xhad/grader/pkg/pipeline"
	"github.com/xhad/grader/server"
)

type options struct {
	ConfigPath string
	Rubric     string
	PauseAfter string
	RunID      string
	Strict     bool
	Serve      bool
	History    int
	Input      string
}

func main() {
	opts := parseFlags()

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() options {
	var opts options

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <input>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.Rubric, "rubric", "", "Grading rubric (default: "+pipeline.DefaultRubric+")")
	flag.StringVar(&opts.PauseAfter, "pause-after", "", "Pause after a stage: ingestion, analysis or grading")
	flag.StringVar(&opts.RunID, "run-id", "", "Run identifier (default: random UUID)")
	flag.BoolVar(&opts.Strict, "strict", false, "Use strict AI authorship thresholds")
	flag.BoolVar(&opts.Serve, "serve", false, "Start the HTTP server instead of grading a file")
	flag.IntVar(&opts.History, "history", 0, "List the N most recent runs and exit")
	flag.Parse()

	opts.Input = flag.Arg(0)
	return opts
}

func run(opts options) error {
	// Everything human-facing goes to stderr; stdout carries the report.
	color.Output = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Strict {
		config.Analysis.Strict = true
	}
	if errs := config.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
	}

	zl := logger.NewZapLogger(config.Logging.File, config.Logging.Production)
	defer zl.Sync()

	if opts.History > 0 {
		h, err := openHistory(config.History.Path)
		if err != nil {
			return err
		}
		defer h.Close()
		entries, err := h.List(ctx, opts.History)
		if err != nil {
			return err
		}
		color.Output = os.Stdout
		printHistory(entries)
		return nil
	}

	pauseAfter, err := pipeline.ParsePauseAfter(opts.PauseAfter)
	if err != nil {
		return err
	}
	if !opts.Serve && opts.Input == "" {
		flag.Usage()
		return errors.New("an input file is required")
	}

	a, err := newApp(ctx, config, zl)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Serve {
		var hist server.HistoryLister
		if a.history != nil {
			hist = a.history
		}
		srv, err := server.New(server.Config{
			TmpDir:         config.Server.TmpDir,
			AllowedOrigins: config.Server.AllowedOrigins,
		}, a.orchestrator, hist, zl)
		if err != nil {
			return err
		}
		color.Cyan("Serving on %s", config.Server.Addr)
		return srv.ListenAndServe(ctx, config.Server.Addr)
	}

	return grade(ctx, a, pipeline.RunOptions{
		RunID:      opts.RunID,
		InputPath:  opts.Input,
		Rubric:     opts.Rubric,
		PauseAfter: pauseAfter,
	})
}

func grade(ctx context.Context, a *app, opts pipeline.RunOptions) error {
	events := make(chan pipeline.Event, 32)
	orch, err := a.orchestrator(func(e pipeline.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}

	type outcome struct {
		result *pipeline.RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orch.Run(ctx, opts)
		done <- outcome{res, err}
	}()

	color.Blue("Grading %s", opts.InputPath)
	spinner := getSpinner("Starting...")
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = spinner.Add(1)

		case e := <-events:
			switch e.Kind {
			case pipeline.EventStageStarted:
				spinner.Describe(color.CyanString("Running %s...", e.Stage))
			case pipeline.EventStageCompleted:
				_ = spinner.Clear()
				color.Green("✓ %s complete", e.Stage)
			case pipeline.EventPaused:
				_ = spinner.Clear()
				color.Yellow("Paused after %s. Press Enter to resume.", e.Stage)
				go func() {
					_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
					orch.Resume()
				}()
			case pipeline.EventResumed:
				color.Cyan("Resuming")
			}

		case out := <-done:
			_ = spinner.Finish()
			if out.err != nil {
				color.Red("Grading failed: %v", out.err)
				return out.err
			}
			color.Green("✓ Report written to %s", out.result.ReportPath)

			enc := json.NewEncoder(os.Stdout)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(out.result)
		}
	}
}
