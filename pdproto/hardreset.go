package pdproto

import (
	"context"
	"log"
	"time"

	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdphy"
)

type hrState int

const (
	hrResetLayer hrState = iota
	hrIndicateHardReset
	hrRequestHardReset
	hrWaitPHY
	hrHardResetRequested
	hrWaitPE
	hrComplete
)

// DefaultHardResetTimeout is T_HARD_RESET_COMPLETE: how long the
// coordinator waits for the PHY to confirm an outbound hard reset before
// giving up and proceeding anyway (see DESIGN.md's hard-reset timeout
// decision).
const DefaultHardResetTimeout = 5 * time.Millisecond

// HardReset is the Hard-Reset coordinator: it sequences
// hard-reset emission/reception, resets the RX/TX message-ID state, and
// notifies the Policy Engine.
type HardReset struct {
	PHY pdphy.PHY

	// Sig is this machine's own event signal; the PE and the INT_N
	// dispatcher both send to it.
	Sig *pdevent.Signal
	RX  *pdevent.Signal
	TX  *pdevent.Signal
	// PE is signalled PeReset (PHY-initiated path) or HardSent
	// (PE-initiated path), and this machine waits on PE to signal HRDone
	// back on Sig.
	PE *pdevent.Signal

	// Timeout is T_HARD_RESET_COMPLETE. Zero selects DefaultHardResetTimeout.
	Timeout time.Duration

	Log *log.Logger
}

// NewHardReset creates a HardReset coordinator.
func NewHardReset(phy pdphy.PHY, rx, tx, pe *pdevent.Signal, log *log.Logger) *HardReset {
	return &HardReset{
		PHY: phy,
		Sig: pdevent.NewSignal(),
		RX:  rx,
		TX:  tx,
		PE:  pe,
		Log: log,
	}
}

// Run executes the state machine until ctx is done.
func (h *HardReset) Run(ctx context.Context) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHardResetTimeout
	}

	state := hrResetLayer
	fromPE := false

	for {
		switch state {
		case hrResetLayer:
			got, err := h.Sig.WaitAny(ctx, pdevent.HRReset|pdevent.HRHardResetReceived)
			if err != nil {
				return err
			}
			fromPE = got&pdevent.HRReset != 0

			if err := h.RX.SendSync(ctx, pdevent.RXReset); err != nil {
				return err
			}
			if err := h.TX.SendSync(ctx, pdevent.TXReset); err != nil {
				return err
			}

			if fromPE {
				state = hrRequestHardReset
			} else {
				state = hrIndicateHardReset
			}

		case hrIndicateHardReset:
			h.PE.Send(pdevent.PEPeReset)
			state = hrWaitPE

		case hrRequestHardReset:
			if err := h.PHY.SendHardReset(); err != nil {
				logf(h.Log, "hardreset: send_hard_reset error: %v", err)
			}
			state = hrWaitPHY

		case hrWaitPHY:
			tctx, cancel := context.WithTimeout(ctx, timeout)
			_, err := h.Sig.WaitAny(tctx, pdevent.HRHardResetSent)
			cancel()
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			// A timeout here is non-fatal by design: proceed regardless of
			// whether the PHY ever confirmed the hard reset was sent.
			state = hrHardResetRequested

		case hrHardResetRequested:
			h.PE.Send(pdevent.PEHardSent)
			state = hrWaitPE

		case hrWaitPE:
			if _, err := h.Sig.WaitAny(ctx, pdevent.HRDone); err != nil {
				return err
			}
			state = hrComplete

		case hrComplete:
			state = hrResetLayer
		}
	}
}
