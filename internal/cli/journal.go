package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	observestore "github.com/namewise/runwatch-go/observe/store"
	observesqlite "github.com/namewise/runwatch-go/observe/store/sqlite"
)

func runJournal(ctx context.Context, args []string) {
	opts, positional := parseArgs(args)
	if len(positional) < 1 {
		fmt.Fprintln(os.Stderr, "usage: runwatch journal <run-id> --journal=<path>")
		os.Exit(1)
	}
	runID := positional[0]
	opts, _ = resolve(opts)

	journal := openJournal(opts)
	defer journal.Close()

	events, err := journal.ListEventsByRun(ctx, runID, observestore.ListQuery{Limit: 100})
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal read failed: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tNAME\tSTATUS\tERROR")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format("15:04:05.000"),
			ev.Kind,
			ev.Name,
			ev.Status,
			ev.Error,
		)
	}
	_ = w.Flush()
}

func runMetrics(ctx context.Context, args []string) {
	opts, _ := parseArgs(args)
	opts, _ = resolve(opts)

	journal := openJournal(opts)
	defer journal.Close()

	summary, err := journal.AggregateMetrics(ctx, observestore.MetricsQuery{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "metrics failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("snapshots applied:  %d\n", summary.SnapshotsApplied)
	fmt.Printf("events applied:     %d\n", summary.EventsApplied)
	fmt.Printf("events dropped:     %d\n", summary.EventsDropped)
	fmt.Printf("transport opens:    %d\n", summary.TransportOpens)
	fmt.Printf("transport failures: %d\n", summary.TransportFailures)
	fmt.Printf("refetches:          %d\n", summary.Refetches)
	fmt.Printf("refetch failures:   %d\n", summary.RefetchFailures)
	fmt.Printf("cache merges:       %d\n", summary.CacheMerges)
}

func openJournal(opts cliOptions) *observesqlite.Store {
	if opts.journal == "" {
		fmt.Fprintln(os.Stderr, "a journal path is required (--journal or config file)")
		os.Exit(1)
	}
	journal, err := observesqlite.New(opts.journal)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal open failed: %v\n", err)
		os.Exit(1)
	}
	return journal
}
