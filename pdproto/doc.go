// Package pdproto implements the USB-PD Protocol Layer: RX deduplication,
// TX message-ID management and send-response coordination, and the
// Hard-Reset coordinator that resets both sublayers.
//
// Each of RX, TX and HardReset is a state machine that owns its state
// exclusively and runs as one long-lived goroutine; transitions are
// driven by pdevent signals rather than a single shared bitmask.
package pdproto

import "log"

// logf writes a line to l if l is non-nil. Every state machine in this
// package accepts a *log.Logger and treats nil as "don't log".
func logf(l *log.Logger, format string, args ...any) {
	if l != nil {
		l.Printf(format, args...)
	}
}
