package pdpe

import (
	"context"
	"testing"
	"time"

	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdpool"
)

// rig runs a PolicyEngine against hand-driven fakes standing in for the
// protocol layer and Hard-Reset coordinator it would normally be wired
// to inside a pdport.Port.
type rig struct {
	pool            *pdpool.Pool
	sig, rx, tx, hr *pdevent.Signal
	inbox, outbox   chan *pdmsg.Buffer
	dpm             *fakeDPM
	phy             *fakePHY
	pe              *PolicyEngine

	cancel context.CancelFunc
	done   chan error
}

func newRig(cfg Config) *rig {
	pool := pdpool.New(4)
	dpm := &fakeDPM{}
	phy := &fakePHY{}
	sig := pdevent.NewSignal()
	rx := pdevent.NewSignal()
	tx := pdevent.NewSignal()
	hr := pdevent.NewSignal()
	inbox := make(chan *pdmsg.Buffer, 4)
	outbox := make(chan *pdmsg.Buffer, 4)

	pe := New(phy, pool, dpm, sig, rx, tx, hr, inbox, outbox, cfg, nil)

	return &rig{
		pool: pool, sig: sig, rx: rx, tx: tx, hr: hr,
		inbox: inbox, outbox: outbox, dpm: dpm, phy: phy, pe: pe,
	}
}

// start runs the Policy Engine plus a stand-in Hard-Reset coordinator
// that immediately acks every HRReset with PEHardSent, the way the real
// coordinator does once the PHY confirms the reset went out.
func (r *rig) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan error, 1)

	go func() {
		for {
			bits, err := r.hr.WaitAny(ctx, pdevent.HRReset|pdevent.HRDone)
			if err != nil {
				return
			}
			if bits&pdevent.HRReset != 0 {
				r.sig.Send(pdevent.PEHardSent)
			}
		}
	}()

	go func() { r.done <- r.pe.Run(ctx) }()
}

func (r *rig) stop(t *testing.T) {
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("policy engine did not shut down after cancel")
	}
}

// deliver hands src to the Policy Engine as though PRL-RX had just
// queued it.
func (r *rig) deliver(t *testing.T, src pdmsg.Buffer) {
	buf, err := r.pool.Alloc()
	if err != nil {
		t.Fatalf("pool exhausted delivering test message: %v", err)
	}
	*buf = src
	r.inbox <- buf
	r.sig.Send(pdevent.PEMsgRx)
}

// expectSent waits for the Policy Engine to hand PRL-TX a message,
// frees it as PRL-TX would, and returns its header and raw data objects
// for inspection. It does not ack the send; call ackTxDone/ackTxErr.
func (r *rig) expectSent(t *testing.T, timeout time.Duration) (pdmsg.Header, []uint32) {
	select {
	case buf := <-r.outbox:
		h := buf.Header()
		n := int(h.DataObjectCount())
		objs := make([]uint32, n)
		for i := range objs {
			objs[i] = buf.DataObject(i)
		}
		r.pool.Free(buf)
		return h, objs
	case <-time.After(timeout):
		t.Fatal("timed out waiting for the policy engine to send a message")
		return pdmsg.Header(0), nil
	}
}

func (r *rig) ackTxDone() { r.sig.Send(pdevent.PETxDone) }
func (r *rig) ackTxErr()  { r.sig.Send(pdevent.PETxErr) }

// expectNoSend asserts the Policy Engine does not hand anything to
// PRL-TX within d.
func (r *rig) expectNoSend(t *testing.T, d time.Duration) {
	select {
	case buf := <-r.outbox:
		r.pool.Free(buf)
		t.Fatalf("policy engine unexpectedly sent a message (type %v)", buf.Header().Type())
	case <-time.After(d):
	}
}

const testTimeout = 2 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TypeCSinkWaitCap = 60 * time.Millisecond
	cfg.SenderResponse = 20 * time.Millisecond
	cfg.PSTransition = 40 * time.Millisecond
	cfg.SinkRequest = 30 * time.Millisecond
	cfg.PPSRequest = 60 * time.Millisecond
	cfg.ChunkingNotSupported = 20 * time.Millisecond
	cfg.PDDebounce = 10 * time.Millisecond
	cfg.HardResetCount = 2
	return cfg
}
