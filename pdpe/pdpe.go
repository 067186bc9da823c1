// Package pdpe implements the USB-PD sink-role Policy Engine: the
// highest-level state machine in the stack, responsible for capability
// negotiation, contract maintenance, and escalation to hard reset.
//
// Unlike pdproto's RX/TX/HardReset machines, which each wait on a
// different consumer's Signal, every PE state waits on the same Signal
// with only the requested bit subset and timeout varying, so the engine
// is a single generic polling loop over a table of per-state
// Enter/Wait/Process callbacks.
package pdpe

import (
	"context"
	"log"
	"time"

	"github.com/gousbpd/sinkstack/pddpm"
	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdphy"
	"github.com/gousbpd/sinkstack/pdpool"
)

// logf writes a line to l if l is non-nil, matching pdproto's
// logging convention.
func logf(l *log.Logger, format string, args ...any) {
	if l != nil {
		l.Printf(format, args...)
	}
}

// defaultRequestDO is sent when the DPM has nothing acceptable to
// request (EvaluateCapabilities returned pdmsg.EmptyRequestDO); it asks
// for a trivial 100mA at the first advertised PDO rather than sending no
// Request at all, which would stall the negotiation. The
// CapabilityMismatch flag tells the source none of its profiles
// actually satisfied us.
var defaultRequestDO pdmsg.RequestDO

func init() {
	defaultRequestDO.SetSelectedObjectPosition(1)
	defaultRequestDO.SetFixedMaxOperatingCurrent(100)
	defaultRequestDO.SetFixedOperatingCurrent(100)
	defaultRequestDO.SetCapabilityMismatch(true)
}

// PolicyEngine is a sink-role USB-PD Policy Engine for one port. It owns
// no hardware directly; all physical I/O happens through PHY (used only
// for the SourceUnresponsive Type-C-current fallback) and through the
// PRL-RX/PRL-TX/Hard-Reset goroutines it is wired to via pdevent
// signals.
type PolicyEngine struct {
	PHY  pdphy.PHY
	Pool *pdpool.Pool
	DPM  pddpm.DPM

	// Sig is this engine's own event inbox; every other participant
	// signals it here.
	Sig *pdevent.Signal
	// RX is signalled to reset PRL-RX (used by HardReset coordination
	// indirectly; the PE itself never resets PRL-RX directly).
	RX *pdevent.Signal
	// TX is signalled to hand off an outgoing message and to mark the
	// start of an Atomic Message Sequence.
	TX *pdevent.Signal
	// HR is the Hard-Reset coordinator's signal.
	HR *pdevent.Signal

	// Inbox receives buffers posted by PRL-RX; Outbox is the same
	// channel PRL-TX reads from as its own Inbox.
	Inbox  chan *pdmsg.Buffer
	Outbox chan *pdmsg.Buffer

	Config Config
	Log    *log.Logger

	rev              pdmsg.Revision
	revSet           bool
	explicitContract bool
	minPower         bool
	hardResetCounter int

	sourceCapPDOs       [pdmsg.MaxDataObjects]pdmsg.PDO
	sourceCapCount      int
	pendingSourceCapBuf *pdmsg.Buffer

	requestDO pdmsg.RequestDO
	ppsIndex  uint8 // 1-based index of the first PPS APDO; 8 = none
	lastPPS   uint8 // position of the previous request if it was PPS; 8 = no

	ppsTimer *time.Timer

	lastTCCurrent     pdphy.TypeCCurrent
	haveLastTCCurrent bool
}

// New creates a Policy Engine wired to the given signals and mailboxes.
// outbox must be the same channel passed as the PRL-TX goroutine's
// Inbox.
func New(phy pdphy.PHY, pool *pdpool.Pool, dpm pddpm.DPM, sig, rx, tx, hr *pdevent.Signal, inbox, outbox chan *pdmsg.Buffer, cfg Config, logger *log.Logger) *PolicyEngine {
	return &PolicyEngine{
		PHY: phy, Pool: pool, DPM: dpm,
		Sig: sig, RX: rx, TX: tx, HR: hr,
		Inbox: inbox, Outbox: outbox,
		Config: cfg, Log: logger,
		rev: pdmsg.Revision20,
		ppsIndex: 8, lastPPS: 8,
	}
}

// Run drives the Policy Engine's state machine until ctx is done.
func (pe *PolicyEngine) Run(ctx context.Context) error {
	cur := stateStartup
	entering := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var next *state
		var err error

		if entering {
			if cur.Enter != nil {
				next, err = cur.Enter(ctx, pe)
			}
			entering = false
		} else {
			mask, timeout := cur.Wait(pe)
			bits, timedOut, werr := pe.wait(ctx, mask, timeout)
			if werr != nil {
				return werr
			}
			var buf *pdmsg.Buffer
			if bits&pdevent.PEMsgRx != 0 {
				buf = pe.popMessage()
			}
			next, err = cur.Process(ctx, pe, bits, buf, timedOut)
		}

		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logf(pe.Log, "pdpe: %s: %v", cur.Name, err)
			next = stateHardReset
		}

		if next != nil {
			cur = next
			entering = true
		}
	}
}

// wait blocks until a bit in mask is pending on pe.Sig or timeout
// elapses (0 meaning no timeout). A non-nil error means ctx itself was
// cancelled; a plain timeout is reported via the bool return with a nil
// error, so callers can treat it as an ordinary state transition per
// spec.
func (pe *PolicyEngine) wait(ctx context.Context, mask pdevent.Bits, timeout time.Duration) (pdevent.Bits, bool, error) {
	wctx := ctx
	cancel := func() {}
	if timeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, timeout)
	}
	bits, err := pe.Sig.WaitAny(wctx, mask)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, true, nil
	}
	return bits, false, nil
}

// popMessage drains one buffer from Inbox, re-signalling PEMsgRx if
// more are queued so a single wake is never lost to bitmask coalescing
// (pe.Sig.Send ORs an already-pending bit, so without this a second
// message that arrives while the first is still being processed would
// sit in the channel with nothing left to wake the next wait).
func (pe *PolicyEngine) popMessage() *pdmsg.Buffer {
	select {
	case buf := <-pe.Inbox:
		if len(pe.Inbox) > 0 {
			pe.Sig.Send(pdevent.PEMsgRx)
		}
		return buf
	default:
		return nil
	}
}

// send hands buf to PRL-TX and signals it to transmit.
func (pe *PolicyEngine) send(ctx context.Context, buf *pdmsg.Buffer) error {
	select {
	case pe.Outbox <- buf:
	case <-ctx.Done():
		return ctx.Err()
	}
	pe.TX.Send(pdevent.TXMsgTx)
	return nil
}

// transmitAndAwait sends buf and blocks for PRL-TX's verdict. PRL-TX
// owns freeing buf once it is done with it; the PE must not free it
// again.
func (pe *PolicyEngine) transmitAndAwait(ctx context.Context, buf *pdmsg.Buffer) (done, txErr, peReset bool, err error) {
	if err = pe.send(ctx, buf); err != nil {
		return false, false, false, err
	}
	bits, _, werr := pe.wait(ctx, pdevent.PETxDone|pdevent.PETxErr|pdevent.PEPeReset, 0)
	if werr != nil {
		return false, false, false, werr
	}
	return bits&pdevent.PETxDone != 0, bits&pdevent.PETxErr != 0, bits&pdevent.PEPeReset != 0, nil
}

// newHeader builds a header for a message this engine originates.
func (pe *PolicyEngine) newHeader(t pdmsg.Type, numObjs uint8) pdmsg.Header {
	var h pdmsg.Header
	h.SetType(t)
	h.SetDataObjectCount(numObjs)
	pe.stampRoles(&h)
	return h
}

// stampRoles sets power role, data role and spec revision without
// touching any other header bits, so it can be applied after a DPM
// callback has already filled in type/count/payload (SinkCapability).
func (pe *PolicyEngine) stampRoles(h *pdmsg.Header) {
	h.SetPowerRole(pdmsg.PowerRoleSink)
	h.SetDataRole(pdmsg.DataRoleUFP)
	h.SetSpecRevision(pe.rev)
}

func (pe *PolicyEngine) armPPSTimer() {
	pe.cancelPPSTimer()
	pe.ppsTimer = time.AfterFunc(pe.Config.PPSRequest, func() {
		pe.Sig.Send(pdevent.PEPPSRequest)
	})
}

func (pe *PolicyEngine) cancelPPSTimer() {
	if pe.ppsTimer != nil {
		pe.ppsTimer.Stop()
		pe.ppsTimer = nil
	}
}
