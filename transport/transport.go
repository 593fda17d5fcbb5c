// Package transport abstracts the push channel that delivers run events.
// The resilience state machine only ever sees this interface, so it can be
// exercised without a real network socket.
package transport

import "context"

// Callbacks receive the lifecycle of one stream attempt. OnOpen fires once
// when the stream is established; OnError fires once when the attempt fails
// to open or the open stream closes.
type Callbacks struct {
	OnOpen  func()
	OnEvent func(name string, data []byte)
	OnError func(err error)
}

// Transport is one push-stream attempt scoped to a single run.
type Transport interface {
	// Start begins connecting and delivering callbacks in the background.
	Start(ctx context.Context)
	// Stop tears the stream down. No callbacks fire after Stop returns.
	Stop()
}

// Factory builds a fresh transport for a run. The resilience machine calls
// it for every open attempt, including polling-mode probes.
type Factory func(runID string, cb Callbacks) Transport
