package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/namewise/runwatch-go/event"
	"github.com/namewise/runwatch-go/transport"
	"github.com/namewise/runwatch-go/types"
)

const testRun = "run-1"

var snapshotJSON = []byte(`{"run_id":"run-1","version_id":"v1","state":"stage_2","current_stage":2,"progress":{"overall_pct":16},"stages":[]}`)

type fakeTransport struct {
	runID string
	cb    transport.Callbacks

	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeTransport) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTransport) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// open/fail/deliver simulate the asynchronous callbacks of a real stream.
func (f *fakeTransport) open()          { f.cb.OnOpen() }
func (f *fakeTransport) fail(err error) { f.cb.OnError(err) }

func (f *fakeTransport) deliver(name string, data []byte) { f.cb.OnEvent(name, data) }

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) factory(runID string, cb transport.Callbacks) transport.Transport {
	t := &fakeTransport{runID: runID, cb: cb}
	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) waitForAttempt(t *testing.T, n int) *fakeTransport {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.transports) >= n {
			tr := f.transports[n-1]
			f.mu.Unlock()
			return tr
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("transport attempt %d never happened (have %d)", n, f.count())
	return nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	snap  *types.RunSnapshot
	err   error
	calls int
}

func (f *fakeFetcher) FetchRunStatus(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.snap == nil {
		return nil, fmt.Errorf("no snapshot for %s", runID)
	}
	return f.snap.Clone(), nil
}

func (f *fakeFetcher) set(snap *types.RunSnapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fetcherSnapshot() *types.RunSnapshot {
	stage := 2
	return &types.RunSnapshot{
		RunID:        testRun,
		VersionID:    "v1",
		State:        types.StageState(2),
		CurrentStage: &stage,
		Progress:     map[string]any{types.ProgressOverallPct: 16},
		Stages:       []types.StageCheckpoint{},
	}
}

func fastPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		FixedDelays:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		MaxDelay:         5 * time.Millisecond,
		FailureThreshold: 3,
		PollInterval:     10 * time.Millisecond,
		ProbeInterval:    20 * time.Millisecond,
	}
}

func newTestMonitor(t *testing.T, opts ...Option) (*Monitor, *fakeFactory, *fakeFetcher) {
	t.Helper()
	factory := &fakeFactory{}
	fetcher := &fakeFetcher{snap: fetcherSnapshot()}
	all := append([]Option{
		WithTransportFactory(factory.factory),
		WithFetcher(fetcher),
		WithPolicy(fastPolicy()),
	}, opts...)
	m, err := New(all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	return m, factory, fetcher
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestOpenGoesLive(t *testing.T) {
	m, factory, _ := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := m.Status().Connection; got != types.ConnectionReconnecting {
		t.Fatalf("expected reconnecting before open, got %s", got)
	}

	tr := factory.waitForAttempt(t, 1)
	tr.open()
	waitFor(t, func() bool { return m.Status().Connection == types.ConnectionLive })
	waitFor(t, func() bool { return m.Status().Snapshot != nil })
	if got := m.Status().Snapshot.RunID; got != testRun {
		t.Fatalf("unexpected seeded run: %s", got)
	}
}

func TestFailuresPastThresholdEnterPolling(t *testing.T) {
	m, factory, fetcher := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Threshold is three: the first three failures keep reconnecting, the
	// fourth tips into polling.
	for attempt := 1; attempt <= 3; attempt++ {
		tr := factory.waitForAttempt(t, attempt)
		tr.fail(fmt.Errorf("refused"))
		waitFor(t, func() bool { return m.Status().Connection == types.ConnectionReconnecting })
	}
	tr := factory.waitForAttempt(t, 4)
	tr.fail(fmt.Errorf("refused"))
	waitFor(t, func() bool { return m.Status().Connection == types.ConnectionPolling })

	// Polling keeps refetching on the interval.
	base := fetcher.callCount()
	waitFor(t, func() bool { return fetcher.callCount() > base })

	// A probe eventually dials a fresh transport; its success goes live.
	probe := factory.waitForAttempt(t, 5)
	probe.open()
	waitFor(t, func() bool { return m.Status().Connection == types.ConnectionLive })
	if m.Status().Err != nil {
		t.Fatalf("expected cleared error after reopen, got %v", m.Status().Err)
	}
}

func TestProbeFailureStaysPolling(t *testing.T) {
	m, factory, _ := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for attempt := 1; attempt <= 4; attempt++ {
		factory.waitForAttempt(t, attempt).fail(fmt.Errorf("refused"))
	}
	waitFor(t, func() bool { return m.Status().Connection == types.ConnectionPolling })

	probe := factory.waitForAttempt(t, 5)
	probe.fail(fmt.Errorf("still down"))
	time.Sleep(5 * time.Millisecond)
	if got := m.Status().Connection; got != types.ConnectionPolling {
		t.Fatalf("probe failure must not leave polling, got %s", got)
	}
	// The probe keeps its own schedule.
	factory.waitForAttempt(t, 6)
}

func TestPushEventsAdvanceSnapshot(t *testing.T) {
	m, factory, fetcher := newTestMonitor(t)
	// Seed exclusively through the push channel so the initial fetch cannot
	// later replace the reduced state.
	fetcher.set(nil, fmt.Errorf("offline"))
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := factory.waitForAttempt(t, 1)
	tr.open()
	tr.deliver(event.NameSnapshot, snapshotJSON)
	waitFor(t, func() bool { return m.Status().Snapshot != nil })

	tr.deliver(event.NameStageProgress, []byte(`{"run_id":"run-1","stage_id":2,"progress_pct":50}`))
	waitFor(t, func() bool {
		snap := m.Status().Snapshot
		return snap != nil && snap.OverallPct() == 20
	})
}

func TestForeignRunEventsDropped(t *testing.T) {
	m, factory, _ := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := factory.waitForAttempt(t, 1)
	tr.open()
	tr.deliver(event.NameSnapshot, snapshotJSON)
	waitFor(t, func() bool { return m.Status().Snapshot != nil })

	tr.deliver(event.NameStageProgress, []byte(`{"run_id":"other","stage_id":2,"progress_pct":90}`))
	time.Sleep(5 * time.Millisecond)
	if got := m.Status().Snapshot.OverallPct(); got != 16 {
		t.Fatalf("foreign event must not apply, overall=%d", got)
	}
}

func TestMalformedEventTriggersRefetch(t *testing.T) {
	m, factory, fetcher := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := factory.waitForAttempt(t, 1)
	tr.open()
	waitFor(t, func() bool { return m.Status().Snapshot != nil })

	base := fetcher.callCount()
	tr.deliver(event.NameStageProgress, []byte(`{"run_id":"run-1","stage_id":"two","progress_pct":50}`))
	waitFor(t, func() bool { return fetcher.callCount() > base })
}

func TestRefetchFailureKeepsStaleSnapshot(t *testing.T) {
	m, factory, fetcher := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := factory.waitForAttempt(t, 1)
	tr.open()
	waitFor(t, func() bool { return m.Status().Snapshot != nil })

	fetcher.set(nil, fmt.Errorf("backend down"))
	base := fetcher.callCount()
	tr.deliver(event.NameStageProgress, []byte(`{"run_id":"run-1","stage_id":null,"progress_pct":50}`))
	waitFor(t, func() bool { return fetcher.callCount() > base })
	if m.Status().Snapshot == nil {
		t.Fatalf("failed refetch must not clear the stale snapshot")
	}
}

func TestClearanceUpdatesRouted(t *testing.T) {
	var mu sync.Mutex
	var got []*event.ClearanceUpdate
	m, factory, _ := newTestMonitor(t, WithClearanceSink(func(_ context.Context, update *event.ClearanceUpdate) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, update)
	}))
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := factory.waitForAttempt(t, 1)
	tr.open()
	tr.deliver(event.NameSnapshot, snapshotJSON)
	waitFor(t, func() bool { return m.Status().Snapshot != nil })

	tr.deliver(event.NameClearanceUpdate, []byte(`{"run_id":"run-1","candidate_id":"c1","dimension":"domain","value":{"status":"clear"}}`))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0].CandidateID != "c1" || got[0].Dimension != types.ClearanceDomain {
		t.Fatalf("unexpected routed update: %+v", got[0])
	}
	if got[0].Value.Status != types.ClearanceClear {
		t.Fatalf("unexpected clearance status: %s", got[0].Value.Status)
	}
}

func TestTerminalEventGoesIdle(t *testing.T) {
	m, factory, _ := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := factory.waitForAttempt(t, 1)
	tr.open()
	tr.deliver(event.NameSnapshot, snapshotJSON)
	waitFor(t, func() bool { return m.Status().Snapshot != nil })

	tr.deliver(event.NameRunCompleted, []byte(`{"run_id":"run-1"}`))
	waitFor(t, func() bool { return m.Status().Connection == types.ConnectionIdle })
	snap := m.Status().Snapshot
	if snap == nil || snap.State != types.StateCompleted {
		t.Fatalf("terminal snapshot must survive teardown: %+v", snap)
	}
	if !tr.isStopped() {
		t.Fatalf("transport must be stopped after terminal event")
	}
}

func TestStopInvalidatesLateCallbacks(t *testing.T) {
	m, factory, fetcher := newTestMonitor(t)
	// No snapshot can be seeded while stopped or before the stream opens.
	fetcher.set(nil, fmt.Errorf("offline"))
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := factory.waitForAttempt(t, 1)
	m.Stop()
	if got := m.Status().Connection; got != types.ConnectionIdle {
		t.Fatalf("expected idle after Stop, got %s", got)
	}

	tr.open()
	tr.deliver(event.NameSnapshot, snapshotJSON)
	time.Sleep(5 * time.Millisecond)
	if got := m.Status().Connection; got != types.ConnectionIdle {
		t.Fatalf("stale open must be ignored, got %s", got)
	}
	if m.Status().Snapshot != nil {
		t.Fatalf("stale event must not seed a snapshot")
	}
}

func TestRestartSwitchesRuns(t *testing.T) {
	m, factory, fetcher := newTestMonitor(t)
	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := factory.waitForAttempt(t, 1)
	first.open()
	waitFor(t, func() bool { return m.Status().Snapshot != nil })

	other := fetcherSnapshot()
	other.RunID = "run-2"
	fetcher.set(other, nil)
	if err := m.Start(context.Background(), "run-2"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !first.isStopped() {
		t.Fatalf("previous transport must be stopped on run switch")
	}
	second := factory.waitForAttempt(t, 2)
	second.open()
	waitFor(t, func() bool {
		snap := m.Status().Snapshot
		return snap != nil && snap.RunID == "run-2"
	})
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	m, factory, _ := newTestMonitor(t)
	id, ch := m.Subscribe(16)
	defer m.Unsubscribe(id)

	if err := m.Start(context.Background(), testRun); err != nil {
		t.Fatalf("Start: %v", err)
	}
	factory.waitForAttempt(t, 1).open()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case view := <-ch:
			if view.Connection == types.ConnectionLive {
				return
			}
		case <-deadline:
			t.Fatalf("never observed a live view")
		}
	}
}
