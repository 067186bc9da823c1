package pdpe

import "time"

// Config holds the timing constants that drive the Policy Engine's
// timeouts and retries. The USB-PD specification gives each a range;
// DefaultConfig picks a value inside that range, and every field is
// overridable per port.
type Config struct {
	// TypeCSinkWaitCap bounds how long WaitCap waits for a first
	// Source_Capabilities before escalating to HardReset. Spec range:
	// 310-620ms.
	TypeCSinkWaitCap time.Duration
	// SenderResponse bounds how long SelectCap and SendSoftReset wait for a
	// response to something they sent. Spec range: 24-30ms.
	SenderResponse time.Duration
	// PSTransition bounds how long TransitionSink waits for PS_RDY after
	// an Accept. Spec range: 450-550ms.
	PSTransition time.Duration
	// SinkRequest is the retry interval in Ready after a Wait response.
	// Spec value: ~100ms.
	SinkRequest time.Duration
	// PPSRequest is the PPS keepalive period. Spec range: up to 10s.
	PPSRequest time.Duration
	// ChunkingNotSupported bounds how long ChunkReceived waits before
	// replying Not_Supported. Spec range: 40-50ms.
	ChunkingNotSupported time.Duration
	// PDDebounce is the poll interval in SourceUnresponsive. Spec range:
	// 10-20ms.
	PDDebounce time.Duration
	// HardResetCount bounds the hard-reset counter: HardReset gives up and
	// enters SourceUnresponsive once the counter exceeds it, so
	// HardResetCount+1 hard resets are sent first. Spec value: 2.
	HardResetCount int
}

// DefaultConfig returns timing constants near the middle of each range
// the USB-PD specification allows.
func DefaultConfig() Config {
	return Config{
		TypeCSinkWaitCap:     465 * time.Millisecond,
		SenderResponse:       27 * time.Millisecond,
		PSTransition:         500 * time.Millisecond,
		SinkRequest:          100 * time.Millisecond,
		PPSRequest:           8 * time.Second,
		ChunkingNotSupported: 45 * time.Millisecond,
		PDDebounce:           15 * time.Millisecond,
		HardResetCount:       2,
	}
}
