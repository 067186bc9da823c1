// Package pdport assembles one port's worth of the USB-PD sink stack: the
// message pool, the Policy Engine, the Protocol RX/TX machines, the
// Hard-Reset coordinator and the INT_N dispatcher, wired together by
// pdevent signals and mailbox channels.
//
// A Port value is the sole owner of all per-port state; two ports are two
// independent Port values with nothing shared between them.
package pdport

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gousbpd/sinkstack/pddpm"
	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdpe"
	"github.com/gousbpd/sinkstack/pdphy"
	"github.com/gousbpd/sinkstack/pdpool"
	"github.com/gousbpd/sinkstack/pdproto"
)

// DefaultPollInterval is the INT_N dispatcher's cadence: how often the
// PHY's interrupt/status block is read when no explicit interval is
// configured. 1ms keeps worst-case event latency well inside every
// protocol timeout while leaving the I²C bus mostly idle.
const DefaultPollInterval = time.Millisecond

// Options configures a Port. The zero value selects defaults throughout.
type Options struct {
	// PollInterval is the INT_N dispatcher cadence; <= 0 selects
	// DefaultPollInterval.
	PollInterval time.Duration
	// PoolCapacity is the message pool size; <= 0 selects
	// pdpool.DefaultCapacity.
	PoolCapacity int
	// Engine holds the Policy Engine's timing constants; the zero value
	// selects pdpe.DefaultConfig.
	Engine pdpe.Config
	// Log, if non-nil, receives diagnostic lines from every layer.
	Log *log.Logger
}

// Stats is a snapshot of a Port's shared-resource usage.
type Stats struct {
	// BuffersInUse is the number of pool buffers currently owned by some
	// layer.
	BuffersInUse int
	// PoolCapacity is the pool's fixed size.
	PoolCapacity int
}

// Port runs a complete sink-side USB-PD stack against one PHY and one DPM.
type Port struct {
	phy  pdphy.PHY
	pool *pdpool.Pool

	pe *pdpe.PolicyEngine
	rx *pdproto.RX
	tx *pdproto.TX
	hr *pdproto.HardReset

	peSig *pdevent.Signal

	poll time.Duration
	log  *log.Logger
}

// New wires a Port together. The PHY is not touched until Run.
func New(phy pdphy.PHY, dpm pddpm.DPM, opts Options) *Port {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	cfg := opts.Engine
	if cfg == (pdpe.Config{}) {
		cfg = pdpe.DefaultConfig()
	}

	pool := pdpool.New(opts.PoolCapacity)
	peSig := pdevent.NewSignal()
	outbox := make(chan *pdmsg.Buffer, pool.Cap())

	// RX and TX each signal the other, so RX is created first with its TX
	// signal patched in once the TX machine exists.
	rx := pdproto.NewRX(phy, pool, nil, peSig, opts.Log)
	tx := pdproto.NewTX(phy, pool, rx.Sig, peSig, outbox, opts.Log)
	rx.TX = tx.Sig
	hr := pdproto.NewHardReset(phy, rx.Sig, tx.Sig, peSig, opts.Log)
	pe := pdpe.New(phy, pool, dpm, peSig, rx.Sig, tx.Sig, hr.Sig, rx.Inbox, outbox, cfg, opts.Log)

	return &Port{
		phy:   phy,
		pool:  pool,
		pe:    pe,
		rx:    rx,
		tx:    tx,
		hr:    hr,
		peSig: peSig,
		poll:  poll,
		log:   opts.Log,
	}
}

// Run configures the PHY and drives all five goroutines until ctx is done
// or one of them fails; either way every goroutine has exited by the time
// Run returns.
func (p *Port) Run(ctx context.Context) error {
	if err := p.phy.Setup(); err != nil {
		return fmt.Errorf("pdport: phy setup: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.pe.Run(ctx) })
	g.Go(func() error { return p.rx.Run(ctx) })
	g.Go(func() error { return p.tx.Run(ctx) })
	g.Go(func() error { return p.hr.Run(ctx) })
	g.Go(func() error { return p.dispatch(ctx) })
	return g.Wait()
}

// dispatch is the INT_N dispatcher: it reads the PHY's
// combined status/interrupt block once per tick and fans the latched
// conditions out to whichever machine consumes them.
func (p *Port) dispatch(ctx context.Context) error {
	tick := time.NewTicker(p.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		st, err := p.phy.ReadStatus()
		if err != nil {
			if p.log != nil {
				p.log.Printf("pdport: read_status: %v", err)
			}
			continue
		}

		if st.TxSent {
			p.tx.Sig.Send(pdevent.TXSent)
		}
		if st.RetryFailed {
			p.tx.Sig.Send(pdevent.TXRetryFail)
		}
		if st.HardResetReceived {
			p.hr.Sig.Send(pdevent.HRHardResetReceived)
		}
		if st.HardResetSent {
			p.hr.Sig.Send(pdevent.HRHardResetSent)
		}
		if st.OverTemp {
			p.peSig.Send(pdevent.PEOverTemp)
		}
		if st.RxReady {
			p.rx.Sig.Send(pdevent.RXGoodCRCSent)
		}
	}
}

// RequestSourceCapabilities asks the Policy Engine to issue a
// Get_Source_Cap on its next pass through Ready. Safe to call from any
// goroutine, including DPM callbacks.
func (p *Port) RequestSourceCapabilities() {
	p.peSig.Send(pdevent.PEGetSourceCap)
}

// Renegotiate asks the Policy Engine to re-evaluate the last received
// source capabilities against the DPM and issue a fresh Request. Call it
// after changing the DPM's policy.
func (p *Port) Renegotiate() {
	p.peSig.Send(pdevent.PENewPower)
}

// OverTemperature feeds an external over-temperature signal into the
// Policy Engine, for boards whose thermal sensor is not part of the PHY
// (the FUSB302B has none of its own).
func (p *Port) OverTemperature() {
	p.peSig.Send(pdevent.PEOverTemp)
}

// Stats returns a snapshot of the port's pool usage.
func (p *Port) Stats() Stats {
	return Stats{
		BuffersInUse: p.pool.InUse(),
		PoolCapacity: p.pool.Cap(),
	}
}
