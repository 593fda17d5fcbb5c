package monitor

import "time"

// ReconnectPolicy drives the connection resilience schedule: a short fixed
// ladder of reconnect delays, exponential growth past the ladder capped at
// MaxDelay, and the polling/probe cadence once the failure threshold is
// exceeded.
type ReconnectPolicy struct {
	// FixedDelays are used for the first consecutive failures, in order.
	FixedDelays []time.Duration
	// MaxDelay caps the exponential growth past the fixed ladder.
	MaxDelay time.Duration
	// FailureThreshold is the number of consecutive failures after which
	// the machine abandons reconnecting and switches to polling.
	FailureThreshold int
	// PollInterval is the authoritative refetch cadence while polling.
	PollInterval time.Duration
	// ProbeInterval is the cadence of push reopen attempts while polling.
	ProbeInterval time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		FixedDelays:      []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second},
		MaxDelay:         30 * time.Second,
		FailureThreshold: 3,
		PollInterval:     5 * time.Second,
		ProbeInterval:    15 * time.Second,
	}
}

func NormalizeReconnectPolicy(policy ReconnectPolicy) ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if len(policy.FixedDelays) == 0 {
		policy.FixedDelays = def.FixedDelays
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if last := policy.FixedDelays[len(policy.FixedDelays)-1]; policy.MaxDelay < last {
		policy.MaxDelay = last
	}
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = def.FailureThreshold
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = def.PollInterval
	}
	if policy.ProbeInterval <= 0 {
		policy.ProbeInterval = def.ProbeInterval
	}
	return policy
}

// DelayFor returns the reconnect delay after the given number of consecutive
// failures since the last successful open. Failures within the fixed ladder
// use it verbatim; past the ladder the last fixed delay doubles per failure
// up to MaxDelay.
func (p ReconnectPolicy) DelayFor(failures int) time.Duration {
	p = NormalizeReconnectPolicy(p)
	if failures <= 0 {
		failures = 1
	}
	if failures <= len(p.FixedDelays) {
		return p.FixedDelays[failures-1]
	}
	delay := p.FixedDelays[len(p.FixedDelays)-1]
	for i := len(p.FixedDelays); i < failures; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}
