// Package monitor owns the run-progress synchronization loop: it keeps a
// local RunSnapshot consistent with server state over an unreliable push
// transport, degrading to polling when reconnection fails and probing its
// way back to live.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/namewise/runwatch-go/event"
	"github.com/namewise/runwatch-go/mirror"
	"github.com/namewise/runwatch-go/observe"
	"github.com/namewise/runwatch-go/progress"
	"github.com/namewise/runwatch-go/transport"
	"github.com/namewise/runwatch-go/types"
)

// Fetcher supplies authoritative run snapshots. It is satisfied by
// api.Client and by in-memory fakes in tests.
type Fetcher interface {
	FetchRunStatus(ctx context.Context, runID string) (*types.RunSnapshot, error)
}

// ClearanceSink receives candidate clearance updates arriving on the push
// channel. The monitor does not fold them into the run snapshot; the
// candidates layer reconciles them against its own cache.
type ClearanceSink func(ctx context.Context, update *event.ClearanceUpdate)

// StatusView is the full externally visible state at one instant. Every
// published view is self-contained, so subscribers may drop intermediate
// updates without losing consistency.
type StatusView struct {
	RunID      string
	Snapshot   *types.RunSnapshot
	Connection types.ConnectionState
	Err        error
}

type Monitor struct {
	factory   transport.Factory
	fetcher   Fetcher
	policy    ReconnectPolicy
	sink      observe.Sink
	mirror    mirror.Store
	clearance ClearanceSink
	stream    *statusStream

	mu sync.Mutex
	// generation increments on every Start/Stop; async completions carry
	// the generation they were launched under and are discarded when it no
	// longer matches.
	generation int
	ctx        context.Context
	cancel     context.CancelFunc
	runID      string
	snapshot   *types.RunSnapshot
	conn       types.ConnectionState
	lastErr    error
	failures   int
	fetching   bool
	refetchDue bool
	active     transport.Transport

	reconnectTimer *time.Timer
	pollTimer      *time.Timer
	probeTimer     *time.Timer
}

type Option func(*Monitor)

func WithTransportFactory(factory transport.Factory) Option {
	return func(m *Monitor) { m.factory = factory }
}

func WithFetcher(fetcher Fetcher) Option {
	return func(m *Monitor) { m.fetcher = fetcher }
}

func WithPolicy(policy ReconnectPolicy) Option {
	return func(m *Monitor) { m.policy = policy }
}

func WithSink(sink observe.Sink) Option {
	return func(m *Monitor) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithMirror persists every applied snapshot to the given store.
func WithMirror(store mirror.Store) Option {
	return func(m *Monitor) { m.mirror = store }
}

func WithClearanceSink(sink ClearanceSink) Option {
	return func(m *Monitor) { m.clearance = sink }
}

func New(opts ...Option) (*Monitor, error) {
	m := &Monitor{
		policy: DefaultReconnectPolicy(),
		sink:   observe.NoopSink{},
		conn:   types.ConnectionIdle,
		stream: newStatusStream(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	if m.fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	m.policy = NormalizeReconnectPolicy(m.policy)
	return m, nil
}

// Start targets a run: it seeds the snapshot with an authoritative fetch and
// opens the push transport. Starting while already watching a run tears the
// previous watch down first.
func (m *Monitor) Start(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	gen := m.generation
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx, m.cancel = runCtx, cancel
	m.runID = runID
	m.snapshot = nil
	m.failures = 0
	m.lastErr = nil
	m.setConnLocked(types.ConnectionReconnecting)
	m.startRefetchLocked(gen)
	m.openTransportLocked(gen)
	return nil
}

// Stop disposes the active watch and returns the machine to idle. The last
// snapshot stays readable through Status.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.setConnLocked(types.ConnectionIdle)
	m.publishLocked()
}

// Close stops the watch and closes all subscriber channels.
func (m *Monitor) Close() {
	m.Stop()
	m.stream.closeAll()
}

func (m *Monitor) Status() StatusView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Subscribe registers a watcher for status updates. The returned id releases
// the watcher via Unsubscribe.
func (m *Monitor) Subscribe(buffer int) (int, <-chan StatusView) {
	return m.stream.subscribe(buffer)
}

func (m *Monitor) Unsubscribe(id int) {
	m.stream.unsubscribe(id)
}

// teardownLocked cancels every outstanding timer, transport, and in-flight
// completion. Bumping the generation is what invalidates async work.
func (m *Monitor) teardownLocked() {
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.stopTimersLocked()
	if m.active != nil {
		m.active.Stop()
		m.active = nil
	}
	m.fetching = false
	m.refetchDue = false
}

func (m *Monitor) stopTimersLocked() {
	for _, timer := range []**time.Timer{&m.reconnectTimer, &m.pollTimer, &m.probeTimer} {
		if *timer != nil {
			(*timer).Stop()
			*timer = nil
		}
	}
}

func (m *Monitor) viewLocked() StatusView {
	return StatusView{
		RunID:      m.runID,
		Snapshot:   m.snapshot,
		Connection: m.conn,
		Err:        m.lastErr,
	}
}

func (m *Monitor) publishLocked() {
	m.stream.publish(m.viewLocked())
}

func (m *Monitor) setConnLocked(state types.ConnectionState) {
	if m.conn == state {
		return
	}
	m.conn = state
	m.emit(observe.Event{
		Kind:       observe.KindTransport,
		Status:     observe.StatusCompleted,
		Name:       observe.NameConnectionState,
		RunID:      m.runID,
		Connection: string(state),
	})
}

func (m *Monitor) emit(ev observe.Event) {
	// Sinks are expected to be non-blocking; wrap slow ones in AsyncSink.
	_ = m.sink.Emit(context.Background(), ev)
}

// openTransportLocked starts one push-open attempt under the current
// generation. Exactly one transport exists at a time.
func (m *Monitor) openTransportLocked(gen int) {
	if m.active != nil {
		m.active.Stop()
	}
	t := m.factory(m.runID, transport.Callbacks{
		OnOpen:  func() { m.handleOpen(gen) },
		OnEvent: func(name string, data []byte) { m.handleEvent(gen, name, data) },
		OnError: func(err error) { m.handleTransportError(gen, err) },
	})
	m.active = t
	t.Start(m.ctx)
}

func (m *Monitor) handleOpen(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	wasPolling := m.conn == types.ConnectionPolling
	m.failures = 0
	m.lastErr = nil
	m.stopTimersLocked()
	m.setConnLocked(types.ConnectionLive)
	m.emit(observe.Event{
		Kind:   observe.KindTransport,
		Status: observe.StatusCompleted,
		Name:   observe.NameTransportOpen,
		RunID:  m.runID,
	})
	if wasPolling {
		// Events may have been missed while degraded; resync once.
		m.startRefetchLocked(gen)
	}
	m.publishLocked()
}

func (m *Monitor) handleTransportError(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.emit(observe.Event{
		Kind:   observe.KindTransport,
		Status: observe.StatusFailed,
		Name:   observe.NameTransportError,
		RunID:  m.runID,
		Error:  err.Error(),
	})
	if m.conn == types.ConnectionPolling {
		// The probe owns reopen attempts while polling; a failed probe is
		// not a new failure on the reconnect ladder.
		return
	}
	m.lastErr = err
	m.failures++
	if m.active != nil {
		m.active.Stop()
		m.active = nil
	}
	if m.failures > m.policy.FailureThreshold {
		m.enterPollingLocked(gen)
	} else {
		m.setConnLocked(types.ConnectionReconnecting)
		delay := m.policy.DelayFor(m.failures)
		if m.reconnectTimer != nil {
			m.reconnectTimer.Stop()
		}
		m.reconnectTimer = time.AfterFunc(delay, func() { m.handleReconnectTimer(gen) })
	}
	m.publishLocked()
}

func (m *Monitor) handleReconnectTimer(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.conn != types.ConnectionReconnecting {
		return
	}
	m.openTransportLocked(gen)
}

func (m *Monitor) enterPollingLocked(gen int) {
	if m.active != nil {
		m.active.Stop()
		m.active = nil
	}
	m.stopTimersLocked()
	m.setConnLocked(types.ConnectionPolling)
	m.startRefetchLocked(gen)
	m.pollTimer = time.AfterFunc(m.policy.PollInterval, func() { m.handlePollTick(gen) })
	m.probeTimer = time.AfterFunc(m.policy.ProbeInterval, func() { m.handleProbeTick(gen) })
}

func (m *Monitor) handlePollTick(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.conn != types.ConnectionPolling {
		return
	}
	// A tick that lands while the previous refetch is still in flight is
	// skipped, not queued.
	if !m.fetching {
		m.startRefetchLocked(gen)
	}
	m.pollTimer = time.AfterFunc(m.policy.PollInterval, func() { m.handlePollTick(gen) })
}

func (m *Monitor) handleProbeTick(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.conn != types.ConnectionPolling {
		return
	}
	// The polling interval stays running until the probe's open actually
	// succeeds; handleOpen tears it down.
	m.openTransportLocked(gen)
	m.probeTimer = time.AfterFunc(m.policy.ProbeInterval, func() { m.handleProbeTick(gen) })
}

// startRefetchLocked launches one authoritative snapshot fetch. At most one
// is outstanding per run; extra requests while fetching coalesce into a
// single follow-up fetch.
func (m *Monitor) startRefetchLocked(gen int) {
	if m.fetching {
		m.refetchDue = true
		return
	}
	m.fetching = true
	ctx := m.ctx
	runID := m.runID
	m.emit(observe.Event{
		Kind:   observe.KindPoll,
		Status: observe.StatusStarted,
		Name:   observe.NameRefetch,
		RunID:  runID,
	})
	go func() {
		started := time.Now()
		snap, err := m.fetcher.FetchRunStatus(ctx, runID)
		m.finishRefetch(gen, snap, err, time.Since(started))
	}()
}

func (m *Monitor) finishRefetch(gen int, snap *types.RunSnapshot, err error, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.fetching = false
	if err != nil {
		// Keep the stale snapshot; staleness is bounded by the next tick.
		m.emit(observe.Event{
			Kind:       observe.KindPoll,
			Status:     observe.StatusFailed,
			Name:       observe.NameRefetch,
			RunID:      m.runID,
			Error:      err.Error(),
			DurationMs: elapsed.Milliseconds(),
		})
	} else {
		m.emit(observe.Event{
			Kind:       observe.KindPoll,
			Status:     observe.StatusCompleted,
			Name:       observe.NameRefetch,
			RunID:      m.runID,
			DurationMs: elapsed.Milliseconds(),
		})
		m.applySnapshotLocked(snap)
	}
	if m.refetchDue {
		m.refetchDue = false
		m.startRefetchLocked(gen)
	}
}

// applySnapshotLocked replaces local state with an authoritative snapshot
// and handles terminal transitions and mirroring.
func (m *Monitor) applySnapshotLocked(snap *types.RunSnapshot) {
	if snap == nil || snap.RunID != m.runID {
		return
	}
	m.snapshot = snap
	m.emit(observe.Event{
		Kind:   observe.KindRun,
		Status: observe.StatusCompleted,
		Name:   observe.NameSnapshotApplied,
		RunID:  m.runID,
	})
	m.mirrorLocked(snap)
	if snap.State.IsTerminal() {
		m.teardownLocked()
		m.setConnLocked(types.ConnectionIdle)
	}
	m.publishLocked()
}

func (m *Monitor) mirrorLocked(snap *types.RunSnapshot) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.SaveSnapshot(context.Background(), snap); err != nil {
		m.emit(observe.Event{
			Kind:   observe.KindCache,
			Status: observe.StatusFailed,
			Name:   observe.NameCacheMerge,
			RunID:  snap.RunID,
			Error:  err.Error(),
		})
	}
}

func (m *Monitor) handleEvent(gen int, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	ev, err := event.Parse(name, data)
	if err != nil {
		m.dropEventLocked(name, err)
		var malformed *event.MalformedEventError
		if errors.As(err, &malformed) && malformed.Event != event.NameClearanceUpdate {
			// The local view may now be behind; resync from the source of
			// truth rather than guessing.
			m.startRefetchLocked(gen)
		}
		return
	}
	if ev.Run() != m.runID {
		m.dropEventLocked(name, fmt.Errorf("event for foreign run %q", ev.Run()))
		return
	}
	if update, ok := ev.(*event.ClearanceUpdate); ok {
		if m.clearance != nil {
			m.clearance(m.ctx, update)
		}
		return
	}
	next := progress.Apply(m.snapshot, ev)
	if next == nil {
		// A delta arrived before any snapshot; only a fetch can seed one.
		m.startRefetchLocked(gen)
		return
	}
	m.snapshot = next
	if _, ok := ev.(*event.Snapshot); ok {
		m.emit(observe.Event{
			Kind:   observe.KindRun,
			Status: observe.StatusCompleted,
			Name:   observe.NameSnapshotApplied,
			RunID:  m.runID,
		})
	} else {
		m.emit(observe.Event{
			Kind:   observe.KindRun,
			Status: observe.StatusCompleted,
			Name:   observe.NameEventApplied,
			RunID:  m.runID,
			Attributes: map[string]any{
				"event": name,
			},
		})
	}
	m.mirrorLocked(next)
	if next.State.IsTerminal() {
		m.teardownLocked()
		m.setConnLocked(types.ConnectionIdle)
	}
	m.publishLocked()
}

func (m *Monitor) dropEventLocked(name string, err error) {
	m.emit(observe.Event{
		Kind:   observe.KindParse,
		Status: observe.StatusFailed,
		Name:   observe.NameEventDropped,
		RunID:  m.runID,
		Error:  err.Error(),
		Attributes: map[string]any{
			"event": name,
		},
	})
}
