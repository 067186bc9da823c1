// Package pdphy defines the contract between the protocol layer and a
// concrete PD PHY chip driver (an FUSB302B-class transceiver).
//
// The surface is deliberately narrow register-level operations rather
// than a bundled transmit/receive/alert API, because the protocol layer's
// goroutines call them independently: the INT_N dispatcher polls
// ReadStatus on its own cadence, while PRL-TX/PRL-RX call
// SendMessage/ReadMessage only when they have something to do.
package pdphy

import (
	"errors"

	"github.com/gousbpd/sinkstack/pdmsg"
)

// ErrNotSOP is returned by ReadMessage when the PHY's receive FIFO holds a
// packet that did not start with a SOP ordered set (e.g. a raw BIST pattern
// or a line glitch the chip failed to reject on its own).
var ErrNotSOP = errors.New("pdphy: received packet missing SOP")

// ErrCRCFail is returned by ReadMessage when the PHY reports a receive CRC
// mismatch. The caller must not treat buf as valid.
var ErrCRCFail = errors.New("pdphy: CRC check failed")

// TypeCCurrent is the current advertised by the source over CC, as reported
// by the PHY's analog comparators.
type TypeCCurrent uint8

// Type-C current advertisements.
const (
	TypeCCurrentNone TypeCCurrent = iota
	TypeCCurrentDefault
	TypeCCurrent1A5
	TypeCCurrent3A0
)

// Status is a snapshot of the PHY's interrupt/status registers, read once
// per INT_N dispatcher tick.
type Status struct {
	// VBUSOK reports whether VBUS is present and within the PHY's comparator
	// window.
	VBUSOK bool
	// IComp reports the latest Type-C current advertisement.
	IComp TypeCCurrent
	// RxReady reports that an inbound packet arrived and was acknowledged
	// with a GoodCRC since the previous ReadStatus call. It is a latched
	// per-packet indication, not a FIFO level: a GoodCRC reply to our own
	// transmission never sets it (the sink does not acknowledge GoodCRC),
	// so PRL-RX and PRL-TX never race for the same FIFO entry.
	RxReady bool
	// TxSent reports whether the most recently requested transmission
	// completed with a GoodCRC response.
	TxSent bool
	// RetryFailed reports whether the PHY exhausted its hardware retry
	// count without a GoodCRC response.
	RetryFailed bool
	// HardResetReceived reports whether a hard reset ordered set arrived.
	HardResetReceived bool
	// HardResetSent reports whether a requested hard reset transmission
	// completed.
	HardResetSent bool
	// OverTemp reports the PHY's over-temperature comparator.
	OverTemp bool
}

// PHY is the contract a concrete PD transceiver driver implements. All
// methods may block on bus I/O. They are called from several goroutines
// whose calls can overlap: the INT_N dispatcher calls ReadStatus, PRL-TX
// calls Reset, SendMessage and ReadMessage, PRL-RX calls ReadMessage, the
// Hard-Reset coordinator calls SendHardReset, and the Policy Engine calls
// TypeCCurrent. An implementation must be safe for concurrent use.
type PHY interface {
	// Setup initializes chip registers into the sink-listening state:
	// unmasks the interrupts this stack depends on, enables the receiver
	// for SOP* packets, and configures auto-GoodCRC.
	Setup() error

	// Reset reinitializes the PHY's protocol-layer state (its transmit and
	// receive FIFOs) without a line-level hard reset, used each time PRL-TX
	// enters its PhyReset state.
	Reset() error

	// SendHardReset drives a hard-reset ordered set onto CC and returns
	// once the PHY confirms it was sent, or after an internal short
	// timeout (see DESIGN.md's hard-reset timeout decision).
	SendHardReset() error

	// SendMessage transmits buf and returns once the PHY's hardware
	// retry/GoodCRC state machine has settled (successfully or not); the
	// caller inspects the next ReadStatus to learn which.
	SendMessage(buf *pdmsg.Buffer) error

	// ReadMessage copies the PHY's receive FIFO contents into buf if one is
	// waiting. ok is false if the FIFO was empty; an error other than nil
	// means a message was present but could not be trusted (ErrNotSOP,
	// ErrCRCFail).
	ReadMessage(buf *pdmsg.Buffer) (ok bool, err error)

	// ReadStatus reads and clears the PHY's latched interrupt flags,
	// returning a consistent snapshot.
	ReadStatus() (Status, error)

	// TypeCCurrent reads the PHY's CC current-advertisement comparators
	// directly, independent of Status (used by the Policy Engine's
	// SourceUnresponsive Type-C-current fallback, which must poll current
	// even with no interrupt pending).
	TypeCCurrent() (TypeCCurrent, error)
}
