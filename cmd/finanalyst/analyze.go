package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"finanalyst/internal/agents"
	"finanalyst/internal/bootstrap"
	"finanalyst/internal/crew"
	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/report"
	analysissvc "finanalyst/internal/services/analysis"
	"finanalyst/pkg/errors"
)

type analyzeOptions struct {
	file     string
	query    string
	htmlPath string
	tasks    []agents.TaskKey
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a financial document and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalysis(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", crew.DefaultFilePath, "path to the PDF document")
	cmd.Flags().StringVarP(&opts.query, "query", "q", crew.DefaultQuery, "question the analysis should answer")
	cmd.Flags().StringVar(&opts.htmlPath, "html", "", "also write an HTML report to this file")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	opts := analyzeOptions{tasks: []agents.TaskKey{agents.TaskVerification}}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether a document is a financial document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalysis(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", crew.DefaultFilePath, "path to the PDF document")
	return cmd
}

func runAnalysis(parent context.Context, opts analyzeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := bootstrap.NewContainer(bootstrap.ModeCLI)
	container.MustInit()
	defer container.Shutdown()
	if err := container.Start(); err != nil {
		return err
	}

	log := container.Log
	res, err := container.Business.Analysis.Run(ctx, analysissvc.Request{
		Query:    opts.query,
		FilePath: opts.file,
		Source:   analysis.SourceCLI,
		Tasks:    opts.tasks,
		Progress: func(e crew.Event) {
			switch e.Kind {
			case crew.EventTaskStarted:
				log.Infow("Task started", "task", e.Task, "agent", e.Agent)
			case crew.EventToolCalled:
				log.Debugw("Tool called", "task", e.Task, "tool", e.Tool)
			case crew.EventTaskCompleted:
				log.Infow("Task completed", "task", e.Task)
			}
		},
	})
	if err != nil {
		return errors.Wrap(err, "analysis failed")
	}

	data := report.FromOutput(res.Output)
	md, err := report.Markdown(data)
	if err != nil {
		return err
	}
	fmt.Println(md)

	if opts.htmlPath == "" {
		return nil
	}
	page, err := report.HTML(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.htmlPath, page, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", opts.htmlPath)
	}
	log.Infow("HTML report written", "path", opts.htmlPath)
	return nil
}
