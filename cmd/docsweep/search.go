package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/docsweep/internal/config"
	"github.com/FranksOps/docsweep/internal/metrics"
	"github.com/FranksOps/docsweep/internal/orchestrator"
	"github.com/FranksOps/docsweep/internal/report"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a search session and download the matching documents",
	Long: `Search runs one session: the query is translated into every configured
language, sent to each enabled engine, deduplicated and downloaded. With
--criteria the downloaded documents are also scored for relevance when a
scoring backend is enabled. --optimize also searches model-suggested variants
of each language's query and writes them to the session directory.

Interrupting the command cancels the session; unfinished results are
recorded as failed with reason "cancelled".`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("criteria", "", "relevance criteria for scoring downloaded documents")
	searchCmd.Flags().StringSlice("languages", nil, "languages to search in addition to the query's own (default from config)")
	searchCmd.Flags().String("report", "text", "summary format: text, json or html")
	searchCmd.Flags().String("export", "", "also export results: csv, xlsx or json")
	searchCmd.Flags().Bool("optimize", false, "add model-suggested query variants per language (default from translation.optimize)")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	criteria, _ := cmd.Flags().GetString("criteria")
	languages, _ := cmd.Flags().GetStringSlice("languages")
	reportFormat, _ := cmd.Flags().GetString("report")
	exportFormat, _ := cmd.Flags().GetString("export")
	optimize := cfg.Translation.Optimize
	if cmd.Flags().Changed("optimize") {
		optimize, _ = cmd.Flags().GetBool("optimize")
	}
	if optimize && !cfg.HasChatModel() {
		return &config.ConfigurationError{Field: "translation.optimize", Reason: "requires the openai translation or scoring backend"}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	if cfg.Metrics.Port > 0 {
		srv := metrics.Start(cfg.Metrics.Port, logger)
		defer func() { _ = srv.Stop(context.Background()) }()
	}

	session, runErr := orch.Run(ctx, orchestrator.Request{
		Query:     args[0],
		Criteria:  criteria,
		Languages: languages,
		Optimize:  optimize,
	})
	if session == nil {
		return runErr
	}

	if err := writeReport(os.Stdout, reportFormat, report.GenerateSummary(session)); err != nil {
		return err
	}

	if exportFormat != "" && runErr == nil {
		path, err := a.files.ExportFile(session, exportFormat, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Exported results to", path)
	}

	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("session %s cancelled", session.ID)
	}
	return runErr
}
