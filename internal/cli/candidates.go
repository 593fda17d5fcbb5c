package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/namewise/runwatch-go/api"
	"github.com/namewise/runwatch-go/candidates"
	"github.com/namewise/runwatch-go/types"
)

func runCandidates(ctx context.Context, args []string) {
	opts, positional := parseArgs(args)
	if len(positional) < 1 {
		fmt.Fprintln(os.Stderr, "usage: runwatch candidates <run-id> [--filter=] [--sort=] [--page=]")
		os.Exit(1)
	}
	runID := positional[0]
	opts, _ = resolve(opts)
	if opts.baseURL == "" {
		fmt.Fprintln(os.Stderr, "a base URL is required (--base-url, config file, or RUNWATCH_BASE_URL)")
		os.Exit(1)
	}

	client := api.New(api.WithBaseURL(opts.baseURL), api.WithAPIKey(opts.apiKey))
	service, err := candidates.NewService(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candidates: %v\n", err)
		os.Exit(1)
	}

	query := api.ListQuery{Filter: opts.filter, Sort: opts.sort, Page: opts.page}
	result, err := service.Refresh(ctx, runID, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tNAME\tSTATUS\tSHORTLIST\tTRADEMARK\tDOMAIN\tSOCIAL")
	for _, c := range result {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Rank,
			c.Name,
			c.Status,
			shortlistMark(c.Shortlisted),
			clearanceCell(c.Clearance.Trademark),
			clearanceCell(c.Clearance.Domain),
			clearanceCell(c.Clearance.Social),
		)
	}
	_ = w.Flush()
}

func runClearance(ctx context.Context, args []string) {
	opts, positional := parseArgs(args)
	if len(positional) < 1 {
		fmt.Fprintln(os.Stderr, "usage: runwatch clearance <run-id>")
		os.Exit(1)
	}
	runID := positional[0]
	opts, _ = resolve(opts)
	if opts.baseURL == "" {
		fmt.Fprintln(os.Stderr, "a base URL is required (--base-url, config file, or RUNWATCH_BASE_URL)")
		os.Exit(1)
	}

	client := api.New(api.WithBaseURL(opts.baseURL), api.WithAPIKey(opts.apiKey))
	service, err := candidates.NewService(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candidates: %v\n", err)
		os.Exit(1)
	}
	if err := service.TriggerClearance(ctx, runID); err != nil {
		fmt.Fprintf(os.Stderr, "trigger failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("clearance checks started for run %s; results arrive as push updates\n", runID)
}

func shortlistMark(shortlisted bool) string {
	if shortlisted {
		return "yes"
	}
	return "-"
}

func clearanceCell(rec *types.ClearanceRecord) string {
	if rec == nil {
		return "-"
	}
	return types.ClearanceStatusLabel(rec.Status)
}
