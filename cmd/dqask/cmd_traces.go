package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dqinsight/internal/logging"
	"dqinsight/internal/store"
)

var tracesLimit int

// tracesCmd inspects persisted transitions
var tracesCmd = &cobra.Command{
	Use:   "traces [request-id]",
	Short: "Show recorded pipeline transitions",
	Long: `Without arguments, lists the most recent transitions across all
requests. With a request ID, shows that request's transitions in order
followed by the LLM calls it made.

Examples:
  dqask traces --limit 20
  dqask traces 6f1c2e0a-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTraces,
}

func init() {
	tracesCmd.Flags().IntVarP(&tracesLimit, "limit", "n", 50, "Number of recent events to show")
}

func runTraces(cmd *cobra.Command, args []string) error {
	if cfg.Trace.DatabasePath == "" {
		return fmt.Errorf("trace.database_path is not set")
	}
	s, err := store.Open(cfg.Trace.DatabasePath, logging.For(logger, logging.CategoryStore))
	if err != nil {
		return err
	}
	defer s.Close()

	return printTraces(cmd.Context(), s, args, tracesLimit, cmd.OutOrStdout())
}

func printTraces(ctx context.Context, s *store.EventStore, args []string, limit int, out io.Writer) error {
	var (
		events []store.EventRecord
		err    error
	)
	if len(args) == 1 {
		events, err = s.ByRequest(ctx, args[0])
	} else {
		events, err = s.Recent(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("failed to query traces: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No traces found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tREQUEST\tSTATE\tKIND\tDETAIL")
	for _, ev := range events {
		detail := ev.Preview
		if ev.Error != "" {
			detail = ev.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.At.Format(time.RFC3339), ev.RequestID, ev.State, ev.ErrorKind, oneLine(detail, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(args) != 1 {
		return nil
	}
	calls, err := s.Calls(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to query calls: %w", err)
	}
	if len(calls) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODE\tDURATION\tPROMPT\tRESPONSE\tRESULT")
	for _, c := range calls {
		result := "ok"
		if !c.Success {
			result = c.ErrorKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\t%d\t%s\n",
			c.Provider, c.Mode, c.DurationMs, c.PromptLen, c.ResponseLen, result)
	}
	return tw.Flush()
}

func oneLine(s string, limit int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return string(r)
}
