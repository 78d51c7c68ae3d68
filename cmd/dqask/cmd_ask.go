package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dqinsight/internal/api"
	"dqinsight/internal/orchestrator"
)

var askNoDataset bool

// askCmd runs a single question
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question and print the resulting chart JSON",
	Long: `Runs one question through the full pipeline and prints the chart
description as JSON. The outcome (success, clarification, fallback_success,
...) is written to stderr.

Example:
  dqask ask "null rate by column for the last 7 days"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askNoDataset, "no-dataset", false, "Do not attach the dataset file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return ask(ctx, a.orch, joinArgs(args), askNoDataset, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func ask(ctx context.Context, asker api.Asker, query string, noDataset bool, out, errOut io.Writer) error {
	if query == "" {
		return fmt.Errorf("question is empty")
	}
	logger.Info("Processing question", zap.String("query", query))

	res, err := asker.Ask(ctx, orchestrator.Request{Query: query, NoDataset: noDataset})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	fmt.Fprintf(errOut, "outcome: %s (request %s)\n", res.Outcome, res.RequestID)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Response)
}
