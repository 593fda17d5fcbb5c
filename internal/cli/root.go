package cli

import (
	"context"
	"strings"
)

func Run(ctx context.Context, args []string) {
	if len(args) < 1 {
		printUsage()
		return
	}

	switch strings.TrimSpace(args[0]) {
	case "watch":
		runWatch(ctx, args[1:])
	case "candidates":
		runCandidates(ctx, args[1:])
	case "clearance":
		runClearance(ctx, args[1:])
	case "journal":
		runJournal(ctx, args[1:])
	case "metrics":
		runMetrics(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage()
	default:
		printUsage()
	}
}
