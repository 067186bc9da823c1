package pdproto

import (
	"context"
	"log"

	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdpool"
	"github.com/gousbpd/sinkstack/pdphy"
)

type rxState int

const (
	rxWaitPHY rxState = iota
	rxReset
	rxCheckMessageID
	rxStoreMessageID
)

// RX is the Protocol RX state machine: it drains the PHY's receive FIFO,
// filters duplicate message IDs, and forwards fresh messages to the
// Policy Engine's mailbox.
type RX struct {
	PHY  pdphy.PHY
	Pool *pdpool.Pool

	// Sig is this machine's own event signal; the INT_N dispatcher and the
	// Hard-Reset coordinator send to it.
	Sig *pdevent.Signal
	// TX is signalled to reset or discard its in-flight message.
	TX *pdevent.Signal
	// PE is signalled MsgRx once a message has been posted to Inbox.
	PE *pdevent.Signal
	// Inbox is the bounded PE mailbox; capacity should equal the pool's.
	Inbox chan *pdmsg.Buffer

	Log *log.Logger

	lastRxID int16 // -1 = none received yet
}

// NewRX creates an RX machine with its mailbox sized to the pool's
// capacity, so a full mailbox and an exhausted pool coincide.
func NewRX(phy pdphy.PHY, pool *pdpool.Pool, tx, pe *pdevent.Signal, log *log.Logger) *RX {
	return &RX{
		PHY:      phy,
		Pool:     pool,
		Sig:      pdevent.NewSignal(),
		TX:       tx,
		PE:       pe,
		Inbox:    make(chan *pdmsg.Buffer, pool.Cap()),
		Log:      log,
		lastRxID: -1,
	}
}

// Run executes the state machine until ctx is done and then returns
// ctx.Err(). PHY read errors and pool exhaustion are logged and the
// message is dropped; they never end Run.
func (r *RX) Run(ctx context.Context) error {
	state := rxWaitPHY
	var cur *pdmsg.Buffer

	for {
		switch state {
		case rxWaitPHY:
			got, err := r.Sig.WaitAny(ctx, pdevent.RXReset|pdevent.RXGoodCRCSent)
			if err != nil {
				return err
			}
			if got&pdevent.RXReset != 0 {
				state = rxReset
				continue
			}

			buf, err := r.Pool.Alloc()
			if err != nil {
				logf(r.Log, "rx: dropping message, %v", err)
				continue
			}
			ok, err := r.PHY.ReadMessage(buf)
			if err != nil || !ok {
				if err != nil {
					logf(r.Log, "rx: read_message error: %v", err)
				}
				r.Pool.Free(buf)
				continue
			}
			cur = buf
			h := cur.Header()
			if h.Type() == pdmsg.TypeSoftReset && !h.IsData() {
				state = rxReset
			} else {
				state = rxCheckMessageID
			}

		case rxReset:
			r.lastRxID = -1
			if err := r.TX.SendSync(ctx, pdevent.TXReset); err != nil {
				return err
			}
			if r.Sig.Peek(pdevent.RXReset) {
				if _, err := r.Sig.WaitAny(ctx, pdevent.RXReset); err != nil {
					return err
				}
				if cur != nil {
					r.Pool.Free(cur)
					cur = nil
				}
				state = rxWaitPHY
				continue
			}
			if cur == nil {
				state = rxWaitPHY
			} else {
				state = rxCheckMessageID
			}

		case rxCheckMessageID:
			if r.Sig.Peek(pdevent.RXReset) {
				if _, err := r.Sig.WaitAny(ctx, pdevent.RXReset); err != nil {
					return err
				}
				if cur != nil {
					r.Pool.Free(cur)
					cur = nil
				}
				state = rxWaitPHY
				continue
			}
			id := int16(cur.Header().MessageID())
			if id == r.lastRxID {
				r.Pool.Free(cur)
				cur = nil
				state = rxWaitPHY
				continue
			}
			state = rxStoreMessageID

		case rxStoreMessageID:
			if err := r.TX.SendSync(ctx, pdevent.TXDiscard); err != nil {
				return err
			}
			r.lastRxID = int16(cur.Header().MessageID())
			pending := cur
			cur = nil
			select {
			case r.Inbox <- pending:
			case <-ctx.Done():
				return ctx.Err()
			}
			r.PE.Send(pdevent.PEMsgRx)
			state = rxWaitPHY
		}
	}
}
