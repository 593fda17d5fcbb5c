package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/namewise/runwatch-go/api"
	"github.com/namewise/runwatch-go/candidates"
	"github.com/namewise/runwatch-go/mirror"
	mirrorredis "github.com/namewise/runwatch-go/mirror/redis"
	"github.com/namewise/runwatch-go/monitor"
	"github.com/namewise/runwatch-go/observe"
	observesqlite "github.com/namewise/runwatch-go/observe/store/sqlite"
	"github.com/namewise/runwatch-go/transport"
	"github.com/namewise/runwatch-go/transport/sse"
	"github.com/namewise/runwatch-go/transport/ws"
	"github.com/namewise/runwatch-go/types"
)

func runWatch(ctx context.Context, args []string) {
	opts, positional := parseArgs(args)
	if len(positional) < 1 {
		fmt.Fprintln(os.Stderr, "usage: runwatch watch <run-id> [flags]")
		os.Exit(1)
	}
	runID := positional[0]
	opts, policy := resolve(opts)
	if opts.baseURL == "" {
		fmt.Fprintln(os.Stderr, "a base URL is required (--base-url, config file, or RUNWATCH_BASE_URL)")
		os.Exit(1)
	}

	client := api.New(
		api.WithBaseURL(opts.baseURL),
		api.WithAPIKey(opts.apiKey),
	)
	factory, err := buildFactory(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transport: %v\n", err)
		os.Exit(1)
	}
	sink, closeSinks := buildSinks(opts)
	defer closeSinks()

	service, err := candidates.NewService(client, candidates.WithSink(sink))
	if err != nil {
		fmt.Fprintf(os.Stderr, "candidates: %v\n", err)
		os.Exit(1)
	}

	monitorOpts := []monitor.Option{
		monitor.WithTransportFactory(factory),
		monitor.WithFetcher(client),
		monitor.WithPolicy(policy),
		monitor.WithSink(sink),
		monitor.WithClearanceSink(service.ApplyClearanceUpdate),
	}
	if store := buildMirror(opts); store != nil {
		defer store.Close()
		monitorOpts = append(monitorOpts, monitor.WithMirror(store))
	}
	m, err := monitor.New(monitorOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	id, updates := m.Subscribe(64)
	defer m.Unsubscribe(id)
	if err := m.Start(ctx, runID); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	fmt.Printf("watching run %s against %s\n", runID, opts.baseURL)
	for {
		select {
		case view, ok := <-updates:
			if !ok {
				return
			}
			printStatus(view)
			if view.Connection == types.ConnectionIdle && view.Snapshot != nil && view.Snapshot.State.IsTerminal() {
				return
			}
		case <-sigs:
			fmt.Println("stopping")
			m.Stop()
			return
		case <-ctx.Done():
			m.Stop()
			return
		}
	}
}

func printStatus(view monitor.StatusView) {
	conn := types.ConnectionStateLabel(view.Connection)
	if view.Snapshot == nil {
		if view.Err != nil {
			fmt.Printf("[%s] (no snapshot yet) error: %v\n", conn, view.Err)
		} else {
			fmt.Printf("[%s] (no snapshot yet)\n", conn)
		}
		return
	}
	snap := view.Snapshot
	line := fmt.Sprintf("[%s] %s %d%%", conn, types.RunStateLabel(snap.State), snap.OverallPct())
	if snap.CurrentStage != nil {
		line += fmt.Sprintf(" - %s", types.StageName(*snap.CurrentStage))
	}
	if snap.Error != "" {
		line += fmt.Sprintf(" (error: %s)", snap.Error)
	}
	fmt.Println(line)
}

func buildFactory(opts cliOptions) (transport.Factory, error) {
	switch opts.transport {
	case "ws":
		return ws.NewFactory(opts.baseURL, ws.WithAPIKey(opts.apiKey))
	default:
		return sse.NewFactory(opts.baseURL, sse.WithAPIKey(opts.apiKey))
	}
}

// buildSinks assembles the telemetry pipeline: stderr log lines plus,
// when configured, the sqlite journal.
func buildSinks(opts cliOptions) (observe.Sink, func()) {
	logSink := observe.NewLogSink(log.New(os.Stderr, "", log.LstdFlags))
	if opts.journal == "" {
		return logSink, func() {}
	}
	journal, err := observesqlite.New(opts.journal)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal disabled: %v\n", err)
		return logSink, func() {}
	}
	async := observe.NewAsyncSink(observe.SinkFunc(journal.SaveEvent), 256)
	combined := observe.NewMultiSink(logSink, async)
	return combined, func() {
		async.Close()
		_ = journal.Close()
	}
}

func buildMirror(opts cliOptions) mirror.Store {
	if opts.redisAddr == "" {
		return nil
	}
	store, err := mirrorredis.New(opts.redisAddr, mirrorredis.WithDB(opts.redisDB))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror disabled: %v\n", err)
		return nil
	}
	return store
}
