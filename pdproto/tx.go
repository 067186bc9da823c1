package pdproto

import (
	"context"
	"log"

	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdphy"
	"github.com/gousbpd/sinkstack/pdpool"
)

type txState int

const (
	txPhyReset txState = iota
	txWaitMessage
	txReset
	txConstructMessage
	txWaitResponse
	txMatchMessageID
	txTransmissionError
	txMessageSent
	txDiscardMessage
)

// TX is the Protocol TX state machine: it stamps outgoing
// messages with the running message ID, initiates PHY transmission, and
// waits for GoodCRC or retry-fail. Since the PHY performs its own
// auto-retry and CRC check, this layer's only remaining job on the
// response path is matching the GoodCRC's message ID.
type TX struct {
	PHY  pdphy.PHY
	Pool *pdpool.Pool

	// Sig is this machine's own event signal.
	Sig *pdevent.Signal
	// RX is signalled to reset when a Soft_Reset is being sent.
	RX *pdevent.Signal
	// PE is signalled TxDone or TxErr when the in-flight send settles.
	PE *pdevent.Signal
	// Inbox is the PE's single producer mailbox; PE posts exactly one
	// buffer at a time, then signals TXMsgTx on Sig.
	Inbox chan *pdmsg.Buffer

	Log *log.Logger

	nextTxID uint8
	inflight *pdmsg.Buffer
}

// NewTX creates a TX machine. inbox should be sized to the pool's
// capacity, matching RX's mailbox.
func NewTX(phy pdphy.PHY, pool *pdpool.Pool, rx, pe *pdevent.Signal, inbox chan *pdmsg.Buffer, log *log.Logger) *TX {
	return &TX{
		PHY:   phy,
		Pool:  pool,
		Sig:   pdevent.NewSignal(),
		RX:    rx,
		PE:    pe,
		Inbox: inbox,
		Log:   log,
	}
}

// Run executes the state machine until ctx is done.
func (t *TX) Run(ctx context.Context) error {
	state := txPhyReset

	for {
		switch state {
		case txPhyReset:
			if err := t.PHY.Reset(); err != nil {
				return err
			}
			if t.inflight != nil {
				t.Pool.Free(t.inflight)
				t.inflight = nil
				t.PE.Send(pdevent.PETxErr)
			}
			state = txWaitMessage

		case txWaitMessage:
			got, err := t.Sig.WaitAny(ctx, pdevent.TXReset|pdevent.TXDiscard|pdevent.TXMsgTx|pdevent.TXStartAMS)
			if err != nil {
				return err
			}
			switch {
			case got&pdevent.TXReset != 0:
				t.nextTxID = 0
				state = txPhyReset
			case got&pdevent.TXDiscard != 0:
				state = txDiscardMessage
			case got&pdevent.TXMsgTx != 0:
				select {
				case buf := <-t.Inbox:
					t.inflight = buf
				case <-ctx.Done():
					return ctx.Err()
				}
				h := t.inflight.Header()
				if h.Type() == pdmsg.TypeSoftReset && !h.IsData() {
					state = txReset
				} else {
					state = txConstructMessage
				}
			default:
				// TXStartAMS on its own: the PHY performs no Rp-based
				// collision avoidance at this layer, so an AMS start needs
				// no action until its first message arrives.
			}

		case txReset:
			t.nextTxID = 0
			if err := t.RX.SendSync(ctx, pdevent.RXReset); err != nil {
				return err
			}
			state = txConstructMessage

		case txConstructMessage:
			if t.Sig.Peek(pdevent.TXReset) {
				if _, err := t.Sig.WaitAny(ctx, pdevent.TXReset); err != nil {
					return err
				}
				t.nextTxID = 0
				state = txPhyReset
				continue
			}
			if t.Sig.Peek(pdevent.TXDiscard) {
				if _, err := t.Sig.WaitAny(ctx, pdevent.TXDiscard); err != nil {
					return err
				}
				state = txDiscardMessage
				continue
			}
			h := t.inflight.Header()
			h.SetMessageID(t.nextTxID)
			t.inflight.SetHeader(h)
			if err := t.PHY.SendMessage(t.inflight); err != nil {
				logf(t.Log, "tx: send_message error: %v", err)
				state = txTransmissionError
				continue
			}
			state = txWaitResponse

		case txWaitResponse:
			got, err := t.Sig.WaitAny(ctx, pdevent.TXReset|pdevent.TXDiscard|pdevent.TXSent|pdevent.TXRetryFail)
			if err != nil {
				return err
			}
			switch {
			case got&pdevent.TXReset != 0:
				t.nextTxID = 0
				state = txPhyReset
			case got&pdevent.TXDiscard != 0:
				state = txDiscardMessage
			case got&pdevent.TXSent != 0:
				state = txMatchMessageID
			default: // TXRetryFail
				state = txTransmissionError
			}

		case txMatchMessageID:
			var crc pdmsg.Buffer
			ok, err := t.PHY.ReadMessage(&crc)
			h := crc.Header()
			if err != nil || !ok || h.Type() != pdmsg.TypeGoodCRC || h.IsData() || h.MessageID() != t.nextTxID {
				state = txTransmissionError
			} else {
				state = txMessageSent
			}

		case txMessageSent, txTransmissionError:
			ok := state == txMessageSent
			t.nextTxID = (t.nextTxID + 1) % 8
			if t.inflight != nil {
				t.Pool.Free(t.inflight)
				t.inflight = nil
			}
			if ok {
				t.PE.Send(pdevent.PETxDone)
			} else {
				t.PE.Send(pdevent.PETxErr)
			}
			state = txWaitMessage

		case txDiscardMessage:
			if t.inflight != nil {
				t.nextTxID = (t.nextTxID + 1) % 8
				t.Pool.Free(t.inflight)
				t.inflight = nil
			}
			state = txPhyReset
		}
	}
}
