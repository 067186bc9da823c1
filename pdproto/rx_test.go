package pdproto

import (
	"context"
	"testing"
	"time"

	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdpool"
)

// drainSignal stands in for the machine that would own sig, observing
// bits in mask so the SendSync calls aimed at it can complete.
func drainSignal(ctx context.Context, sig *pdevent.Signal, mask pdevent.Bits) {
	go func() {
		for {
			if _, err := sig.WaitAny(ctx, mask); err != nil {
				return
			}
		}
	}()
}

func TestRXDeliversFreshMessage(t *testing.T) {
	phy := &fakePHY{}
	pool := pdpool.New(4)
	txSig := pdevent.NewSignal()
	peSig := pdevent.NewSignal()
	rx := NewRX(phy, pool, txSig, peSig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Run(ctx)
	drainSignal(ctx, txSig, pdevent.TXReset|pdevent.TXDiscard)

	var h pdmsg.Header
	h.SetType(pdmsg.TypeSourceCap)
	h.SetDataObjectCount(1)
	h.SetMessageID(0)
	var in pdmsg.Buffer
	in.SetHeader(h)
	in.SetDataObject(0, 0x1101912c) // arbitrary fixed PDO bits

	phy.enqueueRx(in)
	rx.Sig.Send(pdevent.RXGoodCRCSent)

	select {
	case buf := <-rx.Inbox:
		if buf.Header().MessageID() != 0 {
			t.Errorf("delivered MessageID() = %d, want 0", buf.Header().MessageID())
		}
	case <-time.After(time.Second):
		t.Fatal("message was not delivered to PE inbox")
	}

	peCtx, peCancel := context.WithTimeout(context.Background(), time.Second)
	defer peCancel()
	if _, err := peSig.WaitAny(peCtx, pdevent.PEMsgRx); err != nil {
		t.Fatalf("PE was not signalled MsgRx: %v", err)
	}
}

func TestRXDropsDuplicate(t *testing.T) {
	phy := &fakePHY{}
	pool := pdpool.New(4)
	txSig := pdevent.NewSignal()
	peSig := pdevent.NewSignal()
	rx := NewRX(phy, pool, txSig, peSig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Run(ctx)
	drainSignal(ctx, txSig, pdevent.TXReset|pdevent.TXDiscard)

	var h pdmsg.Header
	h.SetType(pdmsg.TypeSourceCap)
	h.SetDataObjectCount(1)
	h.SetMessageID(3)
	var dup pdmsg.Buffer
	dup.SetHeader(h)

	phy.enqueueRx(dup)
	rx.Sig.Send(pdevent.RXGoodCRCSent)

	select {
	case <-rx.Inbox:
	case <-time.After(time.Second):
		t.Fatal("first message was not delivered")
	}

	phy.enqueueRx(dup)
	rx.Sig.Send(pdevent.RXGoodCRCSent)

	select {
	case <-rx.Inbox:
		t.Fatal("duplicate message was delivered to PE inbox")
	case <-time.After(50 * time.Millisecond):
	}

	if got := pool.InUse(); got != 1 {
		t.Errorf("pool InUse() = %d, want 1 (only the delivered buffer still held)", got)
	}
}

func TestRXSoftResetSignalsTXReset(t *testing.T) {
	phy := &fakePHY{}
	pool := pdpool.New(4)
	txSig := pdevent.NewSignal()
	peSig := pdevent.NewSignal()
	rx := NewRX(phy, pool, txSig, peSig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Run(ctx)

	// A consumer on the far side of txSig so SendSync can complete; the
	// TXReset observation is split out so the test can assert it happened.
	drainSignal(ctx, txSig, pdevent.TXDiscard)
	observed := make(chan struct{})
	go func() {
		txSig.WaitAny(context.Background(), pdevent.TXReset)
		close(observed)
	}()

	var h pdmsg.Header
	h.SetType(pdmsg.TypeSoftReset)
	h.SetDataObjectCount(0)
	var sr pdmsg.Buffer
	sr.SetHeader(h)

	phy.enqueueRx(sr)
	rx.Sig.Send(pdevent.RXGoodCRCSent)

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("TX was never signalled to reset on a received Soft_Reset")
	}
}
