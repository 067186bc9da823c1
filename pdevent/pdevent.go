// Package pdevent implements the per-goroutine typed event signalling used
// to wire the USB-PD sink stack's five concurrent participants (PE,
// PRL-RX, PRL-TX, Hard-Reset coordinator, INT_N dispatcher) together.
//
// The semantics are those of an RTOS per-thread event-flags word
// (ChibiOS's chEvtWaitAny/chEvtSignal): multiple named bits latch until a
// waiter observes them, and a wait call blocks for any bit in a requested
// subset. Signal reproduces exactly that over a channel plus a
// mutex-protected word: any-of-set wakeup, auto-clear on observation, and
// latching between signal and wait.
package pdevent

import (
	"context"
	"runtime"
	"sync"
)

// Bits is a set of event flags private to one participant's Signal. Each
// participant defines its own named constants below; values are only
// meaningful relative to the Signal they were sent to.
type Bits uint32

// Signal is a single-consumer, multi-producer latch of event bits. Send may
// be called from any goroutine; WaitAny must only be called by the one
// goroutine that owns this Signal.
type Signal struct {
	mu      sync.Mutex
	pending Bits
	wake    chan struct{}
}

// NewSignal creates an empty Signal.
func NewSignal() *Signal {
	return &Signal{wake: make(chan struct{}, 1)}
}

// Send latches bits into the pending set and wakes the owning goroutine if
// it is blocked in WaitAny. Bits already pending are unaffected (OR
// semantics); Send never blocks.
func (s *Signal) Send(bits Bits) {
	s.mu.Lock()
	s.pending |= bits
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WaitAny blocks until at least one bit in mask is pending, or ctx is done,
// whichever comes first. On success it clears and returns exactly the
// subset of mask that was pending (other pending bits outside mask are
// left untouched for a later WaitAny call). On ctx cancellation/timeout it
// returns ctx.Err().
func (s *Signal) WaitAny(ctx context.Context, mask Bits) (Bits, error) {
	for {
		s.mu.Lock()
		got := s.pending & mask
		if got != 0 {
			s.pending &^= got
			s.mu.Unlock()
			return got, nil
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// SendSync latches bits the same way Send does, then blocks until the
// owning goroutine's WaitAny has observed and cleared every bit in bits (or
// ctx is done). This is the "signal transfer ownership" alternative to an
// explicit cooperative yield: it guarantees the receiver has observed the
// signal before the caller re-reads any state the signal was guarding,
// without assuming anything about scheduler fairness.
func (s *Signal) SendSync(ctx context.Context, bits Bits) error {
	s.Send(bits)
	for {
		s.mu.Lock()
		stillPending := s.pending & bits
		s.mu.Unlock()
		if stillPending == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// The observer clears bits from inside its own WaitAny, which does
		// not notify back on s.wake, so yield rather than busy-spin while
		// it catches up.
		runtime.Gosched()
	}
}

// Peek reports whether any bit in mask is currently pending, without
// clearing it. Intended for tests and diagnostics.
func (s *Signal) Peek(mask Bits) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending&mask != 0
}

// RX events: signalled to the Protocol RX state machine.
const (
	RXReset       Bits = 1 << iota // reset requested (by Hard-Reset or PRL-TX coordination)
	RXGoodCRCSent                  // PHY indicates an inbound packet was acknowledged
)

// TX events: signalled to the Protocol TX state machine.
const (
	TXReset      Bits = 1 << iota // reset requested (by Hard-Reset or PRL-RX)
	TXDiscard                     // PRL-RX superseded our in-flight outgoing message
	TXMsgTx                       // PE queued a new message to send
	TXSent                        // PHY reports successful transmission (GoodCRC)
	TXRetryFail                   // PHY exhausted its auto-retries
	TXStartAMS                    // PE is starting an Atomic Message Sequence
)

// Hard-Reset coordinator events.
const (
	HRReset             Bits = 1 << iota // PE requests a hard reset be sent
	HRHardResetReceived                  // PHY reports an inbound hard reset
	HRHardResetSent                      // PHY reports outbound hard reset completion
	HRDone                               // PE has finished reacting to the reset
)

// Policy Engine events.
const (
	PEPeReset       Bits = 1 << iota // a hard reset is in progress
	PEMsgRx                          // PRL-RX has queued a message
	PETxDone                         // PRL-TX completed the in-flight send
	PETxErr                          // PRL-TX failed to complete the in-flight send
	PEHardSent                       // Hard-Reset coordinator finished emitting a PE-requested hard reset
	PEOverTemp                       // INT_N dispatcher reports over-temperature
	PEGetSourceCap                   // DPM requested a Get_Source_Cap
	PENewPower                       // DPM requested re-evaluation of capabilities
	PEPPSRequest                     // PPS keepalive timer fired
)
