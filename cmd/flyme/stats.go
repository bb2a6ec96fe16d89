// ABOUTME: The stats subcommand: reads the request ledger and prints a summary
// ABOUTME: Shows totals, recent requests, or one request with its agent runs

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/flyme/internal/config"
	"github.com/2389/flyme/internal/store"
)

func runStats(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(out)
	ledgerPath := fs.String("ledger", "", "ledger database path (default: ledger.path from config)")
	limit := fs.Int("limit", 10, "number of recent requests to list")
	intentName := fs.String("intent", "", "only count requests with this intent (flight_search, hotel_search)")
	since := fs.Duration("since", 0, "only count requests newer than this, e.g. 24h")
	requestID := fs.String("request", "", "show one request and its agent runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *ledgerPath
	if path == "" {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		path = cfg.Ledger.Path
	}
	if path == "" {
		return errors.New("no ledger configured (set ledger.path or pass --ledger)")
	}

	ledger, err := store.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	ctx := context.Background()
	if *requestID != "" {
		return printRequest(ctx, out, ledger, *requestID)
	}

	var filter store.StatsFilter
	if *intentName != "" {
		filter.Intent = intentName
	}
	if *since > 0 {
		from := time.Now().Add(-*since)
		filter.Since = &from
	}
	return printStats(ctx, out, ledger, filter, *limit)
}

func printStats(ctx context.Context, out io.Writer, ledger store.Store, filter store.StatsFilter, limit int) error {
	stats, err := ledger.GetStats(ctx, filter)
	if err != nil {
		return err
	}
	requests, err := ledger.ListRequests(ctx, limit)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Fprintln(out, "Ledger summary")
	fmt.Fprintf(out, "  Requests:      %d\n", stats.RequestCount)
	fmt.Fprintf(out, "  Failures:      %d\n", stats.FailureCount)
	fmt.Fprintf(out, "  Input tokens:  %d\n", stats.InputTokens)
	fmt.Fprintf(out, "  Output tokens: %d\n", stats.OutputTokens)
	fmt.Fprintf(out, "  Avg duration:  %s\n", stats.AvgDuration.Round(time.Millisecond))

	if len(requests) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	bold.Fprintln(out, "Recent requests")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TIME\tID\tINTENT\tOUTCOME\tDURATION\tTOKENS")
	for _, r := range requests {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%d\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.ID,
			r.Intent,
			r.Outcome,
			r.Duration.Round(time.Millisecond),
			r.InputTokens+r.OutputTokens,
		)
	}
	return tw.Flush()
}

func printRequest(ctx context.Context, out io.Writer, ledger store.Store, id string) error {
	req, err := ledger.GetRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("request %s not found", id)
	}
	if err != nil {
		return err
	}
	runs, err := ledger.GetRequestUsage(ctx, id)
	if err != nil {
		return err
	}

	color.New(color.Bold).Fprintf(out, "Request %s\n", req.ID)
	fmt.Fprintf(out, "  Time:      %s\n", req.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "  Transport: %s\n", req.Transport)
	fmt.Fprintf(out, "  User:      %s\n", req.UserID)
	fmt.Fprintf(out, "  Intent:    %s\n", req.Intent)
	fmt.Fprintf(out, "  Outcome:   %s\n", req.Outcome)
	fmt.Fprintf(out, "  Duration:  %s\n", req.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Prompt:    %d chars\n", req.PromptChars)
	fmt.Fprintf(out, "  Reply:     %d chars\n", req.ReplyChars)
	for i, u := range runs {
		fmt.Fprintf(out, "  Run %d:     %d turns, %d in / %d out tokens\n",
			i+1, u.Turns, u.InputTokens, u.OutputTokens)
	}
	return nil
}
